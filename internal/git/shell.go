package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Environment variables carrying the credentials to the inline credential
// helper. Neither value ever appears on a command line or inside the helper's
// shell text.
const (
	credentialEnv = "GITBOX_GIT_PASSWORD"
	usernameEnv   = "GITBOX_GIT_USERNAME"
)

// credentialHelper echoes the credentials from the environment. It is a
// constant so no configured value is ever parsed by the shell.
const credentialHelper = `credential.helper=!f() { echo "username=$` + usernameEnv + `"; echo "password=$` + credentialEnv + `"; }; f`

// Shell implements Backend by shelling out to the git command.
type Shell struct {
	bin string
}

// NewShell creates a backend that runs the git binary found in $PATH.
func NewShell() *Shell {
	return &Shell{bin: "git"}
}

// Clone clones url into path. An empty remote leaves an initialized
// repository behind, exactly like git clone does.
func (s *Shell) Clone(ctx context.Context, url, path string, t Transfer) (Repository, error) {
	if url == "" {
		return nil, errors.New("remote url cannot be empty")
	}
	if err := checkCloneTarget(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.bin, "clone", "--origin", DefaultRemoteName, url, path)
	configureAuth(cmd, url, t.Credentials)
	if _, err := runCommand(cmd); err != nil {
		return nil, fmt.Errorf("git clone failed: %w", err)
	}
	return &shellRepo{bin: s.bin, dir: path}, nil
}

// Open opens the repository rooted at path.
func (s *Shell) Open(ctx context.Context, path string) (Repository, error) {
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return &shellRepo{bin: s.bin, dir: path}, nil
}

type shellRepo struct {
	bin string
	dir string
}

func (r *shellRepo) git(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, r.bin, append([]string{"-C", r.dir}, args...)...)
}

func (r *shellRepo) FindOrCreateRemote(name, url string) (Remote, error) {
	out, err := runCommand(r.git(context.Background(), "remote", "get-url", name))
	if err == nil {
		return Remote{Name: name, URL: strings.TrimSpace(out)}, nil
	}
	if url == "" {
		return Remote{}, fmt.Errorf("%w: %s", ErrRemoteNotFound, name)
	}
	if _, err := runCommand(r.git(context.Background(), "remote", "add", name, url)); err != nil {
		return Remote{}, fmt.Errorf("failed to create remote %s: %w", name, err)
	}
	return Remote{Name: name, URL: url}, nil
}

func (r *shellRepo) Fetch(ctx context.Context, remote Remote, branches []string, t Transfer) (FetchStats, error) {
	stats := FetchStats{Tips: make(map[string]string, len(branches))}

	before := r.tips(ctx, remote.Name, branches)

	args := []string{"fetch", "--tags", remote.Name}
	for _, b := range branches {
		args = append(args, FetchRefSpec(remote.Name, b))
	}
	cmd := r.git(ctx, args...)
	configureAuth(cmd, remote.URL, t.Credentials)
	out, err := runCommand(cmd)
	reportLines(t, out)
	if err != nil {
		return stats, classifyOutput("fetch", err, out)
	}

	stats.Tips = r.tips(ctx, remote.Name, branches)
	stats.UpToDate = len(before) == len(stats.Tips)
	for b, tip := range stats.Tips {
		if before[b] != tip {
			stats.UpToDate = false
		}
	}
	return stats, nil
}

// tips resolves the remote-tracking commit of each branch that exists.
func (r *shellRepo) tips(ctx context.Context, remote string, branches []string) map[string]string {
	tips := make(map[string]string, len(branches))
	for _, b := range branches {
		out, err := runCommand(r.git(ctx, "rev-parse", "--verify", "--quiet", "refs/remotes/"+remote+"/"+b))
		if err == nil {
			tips[b] = strings.TrimSpace(out)
		}
	}
	return tips
}

func (r *shellRepo) StageAll(ctx context.Context) error {
	if _, err := runCommand(r.git(ctx, "add", "--all")); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	return nil
}

func (r *shellRepo) CommitStagedTree(ctx context.Context, who Signature, message string) (string, error) {
	if _, err := runCommand(r.git(ctx, "rev-parse", "--verify", "--quiet", "HEAD")); err != nil {
		return "", ErrNoParentCommit
	}

	// diff --cached --quiet exits 0 when the index matches HEAD.
	if err := r.git(ctx, "diff", "--cached", "--quiet").Run(); err == nil {
		return "", ErrNothingToCommit
	}

	cmd := r.git(ctx, "-c", "user.name="+who.Name, "-c", "user.email="+who.Email,
		"commit", "--quiet", "--no-verify", "-m", message)
	if !who.When.IsZero() {
		date := who.When.Format("2006-01-02T15:04:05-0700")
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_DATE="+date, "GIT_COMMITTER_DATE="+date)
	}
	if _, err := runCommand(cmd); err != nil {
		return "", fmt.Errorf("git commit failed: %w", err)
	}

	out, err := runCommand(r.git(ctx, "rev-parse", "HEAD"))
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (r *shellRepo) Push(ctx context.Context, url, branch string, t Transfer) error {
	remote, err := r.FindOrCreateRemote(DefaultRemoteName, url)
	if err != nil {
		return err
	}

	cmd := r.git(ctx, "push", "--porcelain", remote.Name, BranchRefSpec(branch))
	configureAuth(cmd, remote.URL, t.Credentials)
	out, err := runCommand(cmd)
	reportLines(t, out)
	if err != nil {
		return classifyOutput("push", err, out)
	}
	return nil
}

// configureAuth sets up authentication for a single git invocation. The
// credentials travel in the command's own environment and are read back by an
// inline credential helper.
func configureAuth(cmd *exec.Cmd, url string, c Credentials) {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")

	if c.Empty() || !strings.HasPrefix(url, "http") {
		return
	}

	cmd.Env = append(cmd.Env, usernameEnv+"="+c.Username, credentialEnv+"="+c.Password)
	cmd.Args = insertGitFlags(cmd.Args, "-c", "credential.helper=", "-c", credentialHelper)
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// runCommand executes a command and returns its combined output; on failure
// the output is folded into the error.
func runCommand(cmd *exec.Cmd) (string, error) {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// classifyOutput maps well-known git failure messages onto sentinel errors.
func classifyOutput(op string, err error, out string) error {
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "authentication failed"),
		strings.Contains(lower, "could not read username"):
		return fmt.Errorf("git %s: %w: %v", op, ErrAuthRequired, err)
	case strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "[rejected]"):
		return fmt.Errorf("git %s: %w: %v", op, ErrNotFastForward, err)
	case strings.Contains(lower, "does not appear to be a git repository"):
		return fmt.Errorf("git %s: %w: %v", op, ErrRemoteNotFound, err)
	}
	return fmt.Errorf("git %s failed: %w", op, err)
}

func reportLines(t Transfer, out string) {
	if t.OnProgress == nil {
		return
	}
	w := newProgressWriter(t)
	_, _ = w.Write([]byte(out))
	_, _ = w.Write([]byte("\n"))
}
