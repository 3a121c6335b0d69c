//go:build integration

package integration

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/gitbox/internal/config"
	"github.com/schaermu/gitbox/internal/daemon"
	"github.com/schaermu/gitbox/internal/git"
	gitbox "github.com/schaermu/gitbox/internal/sync"
	"github.com/schaermu/gitbox/internal/testutil"
	"github.com/schaermu/gitbox/internal/watch"
)

const (
	window      = 100 * time.Millisecond
	waitTimeout = 15 * time.Second
	settle      = 500 * time.Millisecond
)

// TestDaemonMirrorsChanges runs the whole service in-process: real config
// file, fsnotify watcher and git backend against a local bare remote.
func TestDaemonMirrorsChanges(t *testing.T) {
	testutil.RequireGit(t)

	for _, backend := range []string{git.BackendGoGit, git.BackendShell} {
		t.Run(backend, func(t *testing.T) {
			runScenario(t, backend)
		})
	}
}

func runScenario(t *testing.T, backend string) {
	dir := t.TempDir()
	remote := testutil.NewRemote(t, "main")
	testutil.CommitFile(t, remote, "README.md", "hello\n", "Initial commit")

	box := filepath.Join(dir, "box")
	cfgPath := filepath.Join(dir, "config.yaml")
	statePath := filepath.Join(dir, "state", "status.json")
	writeConfig(t, cfgPath, remote, box, backend, statePath)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	engine := gitbox.NewEngine(
		config.NewFileStore(cfgPath),
		git.New,
		func(w time.Duration) gitbox.Watcher { return watch.New(w, logger) },
		gitbox.NewJournal(),
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	states := make(chan daemon.State)
	served := make(chan error, 1)
	go func() { served <- engine.Serve(ctx, states) }()

	states <- daemon.Start
	require.Eventually(t, func() bool {
		cfg, err := config.Load(cfgPath)
		return err == nil && cfg.Cloned
	}, waitTimeout, 50*time.Millisecond, "cloned flag never persisted")
	time.Sleep(settle)

	content, ok := testutil.FileAt(t, remote, "main", "README.md")
	require.True(t, ok)
	require.Equal(t, "hello\n", content)

	// create
	require.NoError(t, os.WriteFile(filepath.Join(box, "notes.txt"), []byte("one\n"), 0644))
	waitForMessage(t, remote, "Creating new notes.txt")
	content, ok = testutil.FileAt(t, remote, "main", "notes.txt")
	require.True(t, ok)
	assert.Equal(t, "one\n", content)

	// update
	require.NoError(t, os.WriteFile(filepath.Join(box, "notes.txt"), []byte("two\n"), 0644))
	waitForMessage(t, remote, "Updating notes.txt")

	// rename
	require.NoError(t, os.Rename(filepath.Join(box, "notes.txt"), filepath.Join(box, "journal.txt")))
	waitForMessage(t, remote, "Renaming notes.txt to journal.txt")
	_, ok = testutil.FileAt(t, remote, "main", "notes.txt")
	assert.False(t, ok)

	// delete
	require.NoError(t, os.Remove(filepath.Join(box, "journal.txt")))
	waitForMessage(t, remote, "Deleting journal.txt")

	// reload reopens the existing clone
	states <- daemon.Reload
	time.Sleep(settle)
	require.NoError(t, os.MkdirAll(filepath.Join(box, "sub"), 0755))
	time.Sleep(settle)
	require.NoError(t, os.WriteFile(filepath.Join(box, "sub", "later.txt"), []byte("later\n"), 0644))
	waitForMessage(t, remote, "Creating new sub/later.txt")

	states <- daemon.Stop
	select {
	case err := <-served:
		assert.True(t, errors.Is(err, gitbox.ErrStopped), "Serve returned %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return after Stop")
	}

	snap, err := gitbox.LoadSnapshot(statePath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.Pushes, 5)
	assert.Zero(t, snap.CommitFailures)
	assert.Empty(t, snap.LastPushError)
}

func waitForMessage(t *testing.T, remote, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		msgs := testutil.Messages(t, remote, "main")
		return len(msgs) > 0 && msgs[0] == msg
	}, waitTimeout, 50*time.Millisecond, "remote never received %q", msg)
}

func writeConfig(t *testing.T, path, remote, box, backend, statePath string) {
	t.Helper()
	content := "repourl: " + remote + "\n" +
		"branch: main\n" +
		"localwatch: " + box + "\n" +
		"username: \"\"\n" +
		"password: \"\"\n" +
		"cloned: false\n" +
		"debounce: " + window.String() + "\n" +
		"backend: " + backend + "\n" +
		"author:\n  name: gitbox test\n  email: test@example.com\n" +
		"state_file: " + statePath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}
