package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/schaermu/gitbox/internal/daemon"
)

// session is one Initialize+RunLoop run.
type session struct {
	cancel context.CancelFunc
	done   chan error
}

// Serve handles lifecycle states in order. Start and Reload both (re)start
// the session from a freshly loaded configuration; any running session is
// cancelled and awaited first. Stop ends the running session and returns
// ErrStopped. Fatal session errors are returned as is. A session whose
// watcher closed leaves Serve waiting for the next state.
func (e *Engine) Serve(ctx context.Context, states <-chan daemon.State) error {
	var cur *session
	defer func() {
		e.stopSession(cur)
	}()

	for {
		var done <-chan error
		if cur != nil {
			done = cur.done
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case state, ok := <-states:
			if !ok {
				return ctx.Err()
			}
			e.logger.Info("lifecycle state", "state", state)

			e.stopSession(cur)
			cur = nil

			switch state {
			case daemon.Stop:
				return ErrStopped
			case daemon.Start, daemon.Reload:
				cur = e.startSession(ctx)
			}

		case err := <-done:
			cur = nil
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			switch {
			case IsFatal(err):
				return err
			case errors.Is(err, ErrWatcherClosed):
				e.logger.Warn("watcher closed, waiting for the next lifecycle state")
			case err != nil:
				e.logger.Warn("session ended", "error", err)
			}
		}
	}
}

// Session loads the configuration, initializes the repository and runs the
// sync loop until ctx is done or the loop fails.
func (e *Engine) Session(ctx context.Context) error {
	cfg, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigUnreadable, err)
	}

	repo, err := e.Initialize(ctx, cfg)
	if err != nil {
		return err
	}

	return e.RunLoop(ctx, cfg, repo)
}

func (e *Engine) startSession(parent context.Context) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{cancel: cancel, done: make(chan error, 1)}
	go func() {
		s.done <- e.Session(ctx)
	}()
	return s
}

// stopSession cancels s and waits for it to return.
func (e *Engine) stopSession(s *session) {
	if s == nil {
		return
	}
	s.cancel()
	if err := <-s.done; err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("session ended while stopping", "error", err)
	}
}
