// Package testutil builds throwaway git remotes for tests.
package testutil

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/stretchr/testify/require"
)

// RequireGit skips the test when the git binary is not installed. Local
// transports shell out to git-upload-pack and git-receive-pack.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// NewRemote creates an empty bare repository whose HEAD points at branch and
// returns its path.
func NewRemote(t *testing.T, branch string) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "remote.git")
	repo, err := gogit.PlainInit(dir, true)
	require.NoError(t, err, "failed to init bare remote")

	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	require.NoError(t, repo.Storer.SetReference(head), "failed to point HEAD at %s", branch)
	return dir
}

// CommitFile writes name with content straight into the bare remote at dir as
// a new commit on the branch HEAD points at, and returns the commit id.
func CommitFile(t *testing.T, dir, name, content, msg string) string {
	t.Helper()

	storage := filesystem.NewStorage(osfs.New(dir), cache.NewObjectLRUDefault())
	wtfs := memfs.New()
	repo, err := gogit.Open(storage, wtfs)
	require.NoError(t, err, "failed to open remote")

	f, err := wtfs.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err, "failed to stage %s", name)

	sig := &object.Signature{Name: "Seed", Email: "seed@example.com", When: time.Now()}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err, "failed to commit %s", name)
	return hash.String()
}

// Messages returns the commit messages reachable from branch in the
// repository at dir, newest first. A branch without commits yields nil.
func Messages(t *testing.T, dir, branch string) []string {
	t.Helper()

	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err, "failed to open %s", dir)

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil
	}

	iter, err := repo.Log(&gogit.LogOptions{From: ref.Hash()})
	require.NoError(t, err)
	defer iter.Close()

	var msgs []string
	require.NoError(t, iter.ForEach(func(c *object.Commit) error {
		msgs = append(msgs, c.Message)
		return nil
	}))
	return msgs
}

// FileAt returns the content of name in the tip of branch and whether it exists.
func FileAt(t *testing.T, dir, branch, name string) (string, bool) {
	t.Helper()

	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err, "failed to open %s", dir)

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", false
	}
	commit, err := repo.CommitObject(ref.Hash())
	require.NoError(t, err)

	f, err := commit.File(name)
	if err != nil {
		return "", false
	}
	content, err := f.Contents()
	require.NoError(t, err)
	return content, true
}
