// Package git provides the repository operations gitbox needs to mirror a
// working tree into a remote: clone, open, fetch, stage, commit and push.
//
// Two backends implement the same contract. GoGit runs entirely in-process on
// top of go-git; Shell drives the git command found in $PATH.
package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// DefaultRemoteName is the remote every operation targets.
const DefaultRemoteName = "origin"

// Sentinel errors, checked with errors.Is.
var (
	// ErrNoParentCommit is returned by CommitStagedTree when the current
	// branch has no tip yet (for example right after cloning an empty remote).
	ErrNoParentCommit = errors.New("no parent commit")

	// ErrNothingToCommit is returned by CommitStagedTree when the index
	// matches the branch tip.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrRemoteNotFound is returned when the named remote does not exist.
	ErrRemoteNotFound = errors.New("remote not found")

	// ErrAuthRequired is returned when the remote rejected the credentials.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotFastForward is returned when the remote branch moved ahead.
	ErrNotFastForward = errors.New("not a fast-forward")

	// ErrDestinationNotEmpty is returned by Clone when the destination
	// directory already has content.
	ErrDestinationNotEmpty = errors.New("destination is not an empty directory")
)

// Credentials is the username/password pair handed to network operations.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether no credentials are configured.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Progress is a transfer progress report.
type Progress struct {
	Stage   string // e.g. "Receiving objects"
	Current int
	Total   int
	Message string // raw line as reported by the transport
}

// Transfer is passed explicitly into every network operation. It carries the
// credentials and an optional progress callback invoked synchronously.
type Transfer struct {
	Credentials Credentials
	OnProgress  func(Progress)
}

func (t Transfer) progress(p Progress) {
	if t.OnProgress != nil {
		t.OnProgress(p)
	}
}

// Signature identifies the author and committer of a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Remote references a configured remote.
type Remote struct {
	Name string
	URL  string
}

// FetchStats summarizes a fetch.
type FetchStats struct {
	// UpToDate is true when nothing was transferred.
	UpToDate bool
	// Tips maps each fetched branch to its remote-tracking commit after the fetch.
	Tips map[string]string
}

// Backend creates repository handles.
type Backend interface {
	// Clone clones url into path and returns a handle on the new repository.
	Clone(ctx context.Context, url, path string, t Transfer) (Repository, error)
	// Open opens the existing repository rooted at path.
	Open(ctx context.Context, path string) (Repository, error)
}

// Repository is a handle on one local repository. It is not safe for
// concurrent use.
type Repository interface {
	// FindOrCreateRemote returns the named remote, creating it with url when
	// it does not exist.
	FindOrCreateRemote(name, url string) (Remote, error)
	// Fetch fetches the given branches from remote.
	Fetch(ctx context.Context, remote Remote, branches []string, t Transfer) (FetchStats, error)
	// StageAll stages every working tree change: additions, modifications
	// and deletions.
	StageAll(ctx context.Context) error
	// CommitStagedTree commits the index onto the current branch tip and
	// returns the new commit id. It fails with ErrNoParentCommit when the
	// branch has no tip and ErrNothingToCommit when the index is unchanged.
	CommitStagedTree(ctx context.Context, who Signature, message string) (string, error)
	// Push pushes branch to the origin remote, creating origin with url
	// when missing.
	Push(ctx context.Context, url, branch string, t Transfer) error
}

// BranchRefSpec returns the refspec pushing branch onto the same name remotely.
func BranchRefSpec(branch string) string {
	return fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)
}

// FetchRefSpec returns the refspec fetching branch into its remote-tracking ref.
func FetchRefSpec(remote, branch string) string {
	return fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remote, branch)
}

// checkCloneTarget refuses to clone into an existing non-empty directory,
// like git clone does. Checkout would otherwise overwrite local files.
func checkCloneTarget(path string) error {
	entries, err := os.ReadDir(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to inspect clone destination %s: %w", path, err)
	case len(entries) > 0:
		return fmt.Errorf("%w: %s", ErrDestinationNotEmpty, path)
	}
	return nil
}

// New returns the backend registered under name ("go-git" or "git").
func New(name string) (Backend, error) {
	switch name {
	case "", BackendGoGit:
		return NewGoGit(), nil
	case BackendShell:
		return NewShell(), nil
	default:
		return nil, fmt.Errorf("unknown git backend %q", name)
	}
}

// Backend names accepted by New.
const (
	BackendGoGit = "go-git"
	BackendShell = "git"
)
