package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// GoGit implements Backend with go-git.
type GoGit struct{}

// NewGoGit creates a go-git backed Backend.
func NewGoGit() *GoGit {
	return &GoGit{}
}

// storageAt returns the object storage and worktree filesystem for a
// non-bare repository rooted at path.
func storageAt(path string) (*filesystem.Storage, billy.Filesystem) {
	worktree := osfs.New(path)
	dotGit := osfs.New(filepath.Join(path, gogit.GitDirName))
	return filesystem.NewStorage(dotGit, cache.NewObjectLRUDefault()), worktree
}

// Clone clones url into path. Cloning an empty remote yields an initialized
// repository with origin configured and no commits.
func (g *GoGit) Clone(ctx context.Context, url, path string, t Transfer) (Repository, error) {
	if url == "" {
		return nil, errors.New("remote url cannot be empty")
	}
	if err := checkCloneTarget(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	auth, err := authFor(url, t.Credentials)
	if err != nil {
		return nil, err
	}

	storage, worktree := storageAt(path)
	repo, err := gogit.CloneContext(ctx, storage, worktree, &gogit.CloneOptions{
		URL:        url,
		RemoteName: DefaultRemoteName,
		Auth:       auth,
		Progress:   newProgressWriter(t),
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return g.initEmpty(path, url)
	}
	if err != nil {
		return nil, wrapTransportError("clone", err)
	}

	return &goGitRepo{repo: repo, path: path}, nil
}

// initEmpty prepares path the way git does after cloning an empty remote.
func (g *GoGit) initEmpty(path, url string) (Repository, error) {
	storage, worktree := storageAt(path)
	repo, err := gogit.Open(storage, worktree)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.Init(storage, worktree)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository for empty remote: %w", err)
	}

	r := &goGitRepo{repo: repo, path: path}
	if _, err := r.FindOrCreateRemote(DefaultRemoteName, url); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens the repository rooted at path.
func (g *GoGit) Open(ctx context.Context, path string) (Repository, error) {
	storage, worktree := storageAt(path)
	repo, err := gogit.Open(storage, worktree)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return &goGitRepo{repo: repo, path: path}, nil
}

type goGitRepo struct {
	repo *gogit.Repository
	path string
}

func (r *goGitRepo) FindOrCreateRemote(name, url string) (Remote, error) {
	remote, err := r.repo.Remote(name)
	if err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			url = urls[0]
		}
		return Remote{Name: name, URL: url}, nil
	}
	if !errors.Is(err, gogit.ErrRemoteNotFound) {
		return Remote{}, fmt.Errorf("failed to look up remote %s: %w", name, err)
	}
	if url == "" {
		return Remote{}, fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
	}

	if _, err := r.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}}); err != nil {
		return Remote{}, fmt.Errorf("failed to create remote %s: %w", name, err)
	}
	return Remote{Name: name, URL: url}, nil
}

func (r *goGitRepo) Fetch(ctx context.Context, remote Remote, branches []string, t Transfer) (FetchStats, error) {
	stats := FetchStats{Tips: make(map[string]string, len(branches))}

	rem, err := r.repo.Remote(remote.Name)
	if errors.Is(err, gogit.ErrRemoteNotFound) {
		return stats, fmt.Errorf("%w: %s", ErrRemoteNotFound, remote.Name)
	}
	if err != nil {
		return stats, fmt.Errorf("failed to look up remote %s: %w", remote.Name, err)
	}

	url := remote.URL
	if urls := rem.Config().URLs; url == "" && len(urls) > 0 {
		url = urls[0]
	}
	auth, err := authFor(url, t.Credentials)
	if err != nil {
		return stats, err
	}

	specs := make([]config.RefSpec, 0, len(branches))
	for _, b := range branches {
		specs = append(specs, config.RefSpec(FetchRefSpec(remote.Name, b)))
	}

	err = rem.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remote.Name,
		RefSpecs:   specs,
		Auth:       auth,
		Progress:   newProgressWriter(t),
		Tags:       gogit.AllTags,
	})
	switch {
	case errors.Is(err, gogit.NoErrAlreadyUpToDate):
		stats.UpToDate = true
	case err != nil:
		return stats, wrapTransportError("fetch", err)
	}

	for _, b := range branches {
		ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remote.Name, b), true)
		if err == nil {
			stats.Tips[b] = ref.Hash().String()
		}
	}
	return stats, nil
}

func (r *goGitRepo) StageAll(ctx context.Context) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}

	// Files deleted from the worktree are not always picked up by AddOptions.All.
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	for path, fs := range status {
		if fs.Worktree != gogit.Deleted {
			continue
		}
		if _, err := wt.Remove(path); err != nil {
			return fmt.Errorf("failed to stage deletion of %s: %w", path, err)
		}
	}
	return nil
}

func (r *goGitRepo) CommitStagedTree(ctx context.Context, who Signature, message string) (string, error) {
	if _, err := r.repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoParentCommit
		}
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	staged := 0
	for _, fs := range status {
		if fs.Staging != gogit.Untracked && fs.Staging != gogit.Unmodified {
			staged++
		}
	}
	if staged == 0 {
		return "", ErrNothingToCommit
	}

	when := who.When
	if when.IsZero() {
		when = time.Now()
	}
	sig := &object.Signature{Name: who.Name, Email: who.Email, When: when}

	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		if errors.Is(err, gogit.ErrEmptyCommit) {
			return "", ErrNothingToCommit
		}
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	return hash.String(), nil
}

func (r *goGitRepo) Push(ctx context.Context, url, branch string, t Transfer) error {
	remote, err := r.FindOrCreateRemote(DefaultRemoteName, url)
	if err != nil {
		return err
	}

	auth, err := authFor(remote.URL, t.Credentials)
	if err != nil {
		return err
	}

	err = r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remote.Name,
		RefSpecs:   []config.RefSpec{config.RefSpec(BranchRefSpec(branch))},
		Auth:       auth,
		Progress:   newProgressWriter(t),
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return wrapTransportError("push", err)
	}
	return nil
}

// authFor returns basic auth for http(s) remotes when credentials are set.
// Other transports authenticate on their own (ssh agent, local paths).
func authFor(url string, c Credentials) (transport.AuthMethod, error) {
	if c.Empty() {
		return nil, nil
	}
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return nil, fmt.Errorf("invalid remote url %q: %w", url, err)
	}
	switch ep.Protocol {
	case "http", "https":
		return &http.BasicAuth{Username: c.Username, Password: c.Password}, nil
	}
	return nil, nil
}

func wrapTransportError(op string, err error) error {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%s: %w: %v", op, ErrAuthRequired, err)
	case errors.Is(err, gogit.ErrNonFastForwardUpdate):
		return fmt.Errorf("%s: %w: %v", op, ErrNotFastForward, err)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
