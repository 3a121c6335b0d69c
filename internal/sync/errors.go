package sync

import "errors"

// Sentinel errors returned by the engine, checked with errors.Is.
var (
	// ErrConfigUnreadable means the configuration record could not be read
	// or is missing required keys.
	ErrConfigUnreadable = errors.New("config unreadable")

	// ErrCloneFailed means the initial clone failed. It is not retried.
	ErrCloneFailed = errors.New("clone failed")

	// ErrOpenFailed means an already cloned working tree could not be opened.
	ErrOpenFailed = errors.New("open failed")

	// ErrConfigPersistFailed means the cloned flag could not be saved.
	ErrConfigPersistFailed = errors.New("config persist failed")

	// ErrWatchSetupFailed means the watcher could not subscribe to the tree.
	ErrWatchSetupFailed = errors.New("watch setup failed")

	// ErrPushFailed means a push was rejected or could not reach the remote.
	// Queued events are abandoned.
	ErrPushFailed = errors.New("push failed")

	// ErrWatcherClosed means the event sequence ended without a stop request.
	ErrWatcherClosed = errors.New("watcher closed")

	// ErrStopped is returned by Serve after a Stop request.
	ErrStopped = errors.New("stopped")
)

// IsFatal reports whether err must end the process.
func IsFatal(err error) bool {
	for _, fatal := range []error{
		ErrConfigUnreadable,
		ErrCloneFailed,
		ErrOpenFailed,
		ErrConfigPersistFailed,
		ErrWatchSetupFailed,
		ErrPushFailed,
	} {
		if errors.Is(err, fatal) {
			return true
		}
	}
	return false
}
