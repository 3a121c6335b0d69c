// Package sync mirrors a watched working tree into its remote repository:
// every change event is fetched, staged, committed and pushed in order.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schaermu/gitbox/internal/config"
	"github.com/schaermu/gitbox/internal/git"
	"github.com/schaermu/gitbox/internal/watch"
)

// ConfigStore loads and persists the configuration record.
type ConfigStore interface {
	Load() (*config.Config, error)
	Store(cfg *config.Config) error
}

// Watcher produces the change events for a directory tree.
type Watcher interface {
	Watch(ctx context.Context, root string) (<-chan watch.Event, error)
}

// BackendFactory returns the repository backend registered under name.
type BackendFactory func(name string) (git.Backend, error)

// WatcherFactory creates a fresh watcher for one session.
type WatcherFactory func(window time.Duration) Watcher

// Engine orchestrates the sync process
type Engine struct {
	store    ConfigStore
	backends BackendFactory
	watchers WatcherFactory
	journal  *Journal
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(store ConfigStore, backends BackendFactory, watchers WatcherFactory, journal *Journal, logger *slog.Logger) *Engine {
	if journal == nil {
		journal = NewJournal()
	}
	return &Engine{
		store:    store,
		backends: backends,
		watchers: watchers,
		journal:  journal,
		logger:   logger,
		now:      time.Now,
	}
}

// Journal returns the journal the engine records outcomes in.
func (e *Engine) Journal() *Journal {
	return e.journal
}

// Initialize returns a handle on the working tree. The remote is cloned
// exactly once: when cfg.Cloned is false it clones and persists Cloned=true,
// otherwise it opens the existing repository without touching the remote.
func (e *Engine) Initialize(ctx context.Context, cfg *config.Config) (git.Repository, error) {
	backend, err := e.backends(cfg.BackendName())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigUnreadable, err)
	}

	if cfg.Cloned {
		e.logger.Debug("opening repository", "path", cfg.LocalWatch)
		repo, err := backend.Open(ctx, cfg.LocalWatch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
		return repo, nil
	}

	e.logger.Info("cloning repository", "repo", cfg.RepoURL, "dest", cfg.LocalWatch)
	repo, err := backend.Clone(ctx, cfg.RepoURL, cfg.LocalWatch, e.transfer(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCloneFailed, err)
	}

	cfg.Cloned = true
	if err := e.store.Store(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigPersistFailed, err)
	}
	e.logger.Info("repository cloned", "dest", cfg.LocalWatch)
	return repo, nil
}

// RunLoop watches cfg.LocalWatch and syncs each event before reading the
// next one. It returns ErrPushFailed on the first failed push,
// ErrWatcherClosed when the event sequence ends, or the context error once
// ctx is done.
func (e *Engine) RunLoop(ctx context.Context, cfg *config.Config, repo git.Repository) error {
	events, err := e.watchers(cfg.DebounceWindow()).Watch(ctx, cfg.LocalWatch)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatchSetupFailed, err)
	}

	e.logger.Info("watching for changes",
		"path", cfg.LocalWatch,
		"branch", cfg.Branch,
		"debounce", cfg.DebounceWindow())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrWatcherClosed
			}
			if err := e.process(ctx, cfg, repo, ev); err != nil {
				return err
			}
		}
	}
}

// process runs one event through fetch, stage, commit and push.
func (e *Engine) process(ctx context.Context, cfg *config.Config, repo git.Repository, ev watch.Event) error {
	intent, ok := NewIntent(cfg.LocalWatch, ev)
	if !ok {
		e.logger.Debug("ignoring event", "path", ev.Path, "kind", ev.Kind)
		e.journal.recordSkipped()
		return nil
	}
	defer e.saveJournal(cfg)

	e.journal.recordEvent(intent)
	e.logger.Info("syncing change", "kind", intent.Kind, "path", intent.Path)

	t := e.transfer(cfg)

	err := e.fetch(ctx, cfg, repo, t)
	e.journal.recordFetch(err)
	if err != nil {
		e.logger.Warn("fetch failed, continuing", "error", err)
	}

	id, err := e.commit(ctx, cfg, repo, intent.Message)
	e.journal.recordCommit(id, err)
	switch {
	case errors.Is(err, git.ErrNoParentCommit):
		e.logger.Warn("branch has no commits yet, nothing to push; seed the remote with an initial commit",
			"branch", cfg.Branch)
		return nil
	case errors.Is(err, git.ErrNothingToCommit):
		e.logger.Info("nothing to commit", "path", intent.Path)
	case err != nil:
		e.logger.Warn("commit failed, continuing", "error", err)
	default:
		e.logger.Info("committed", "commit", id, "message", intent.Message)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := repo.Push(ctx, cfg.RepoURL, cfg.Branch, t); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.journal.recordPush(err)
		return fmt.Errorf("%w: %w", ErrPushFailed, err)
	}
	e.journal.recordPush(nil)
	e.logger.Info("pushed", "branch", cfg.Branch)
	return nil
}

func (e *Engine) fetch(ctx context.Context, cfg *config.Config, repo git.Repository, t git.Transfer) error {
	remote, err := repo.FindOrCreateRemote(git.DefaultRemoteName, cfg.RepoURL)
	if err != nil {
		return err
	}
	stats, err := repo.Fetch(ctx, remote, []string{cfg.Branch}, t)
	if err != nil {
		return err
	}
	e.logger.Debug("fetched", "up_to_date", stats.UpToDate, "tip", stats.Tips[cfg.Branch])
	return nil
}

func (e *Engine) commit(ctx context.Context, cfg *config.Config, repo git.Repository, message string) (string, error) {
	if err := repo.StageAll(ctx); err != nil {
		return "", err
	}
	name, email := cfg.Identity()
	return repo.CommitStagedTree(ctx, git.Signature{Name: name, Email: email, When: e.now()}, message)
}

// transfer builds the credential-bearing context for network calls.
func (e *Engine) transfer(cfg *config.Config) git.Transfer {
	return git.Transfer{
		Credentials: git.Credentials{Username: cfg.Username, Password: cfg.Password},
		OnProgress: func(p git.Progress) {
			if p.Stage == "" {
				e.logger.Debug("remote", "message", p.Message)
				return
			}
			e.logger.Debug("transfer progress", "stage", p.Stage, "current", p.Current, "total", p.Total)
		},
	}
}

func (e *Engine) saveJournal(cfg *config.Config) {
	if err := e.journal.Save(cfg.StatePath()); err != nil {
		e.logger.Warn("failed to save status", "path", cfg.StatePath(), "error", err)
	}
}
