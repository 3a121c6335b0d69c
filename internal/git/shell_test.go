package git

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
)

func TestInsertGitFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		flags []string
		want  []string
	}{
		{
			name:  "insert before subcommand",
			args:  []string{"git", "clone", "--origin", "origin", "url", "dest"},
			flags: []string{"-c", "key=value"},
			want:  []string{"git", "-c", "key=value", "clone", "--origin", "origin", "url", "dest"},
		},
		{
			name:  "insert before -C",
			args:  []string{"git", "-C", "/dir", "push", "origin"},
			flags: []string{"-c", "cred=helper"},
			want:  []string{"git", "-c", "cred=helper", "-C", "/dir", "push", "origin"},
		},
		{
			name:  "empty args",
			args:  []string{},
			flags: []string{"-c", "key=value"},
			want:  []string{"-c", "key=value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := insertGitFlags(tt.args, tt.flags...)
			if len(got) != len(tt.want) {
				t.Fatalf("insertGitFlags() length = %d, want %d\ngot:  %v\nwant: %v", len(got), len(tt.want), got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("insertGitFlags()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"="), true
		}
	}
	return "", false
}

func TestConfigureAuth_HTTPS(t *testing.T) {
	cmd := exec.Command("git", "-C", "/dir", "push", "origin")
	configureAuth(cmd, "https://example.com/me/box.git", Credentials{Username: "me", Password: "s3cret"})

	if v, ok := envValue(cmd.Env, credentialEnv); !ok || v != "s3cret" {
		t.Errorf("%s = %q, want the password", credentialEnv, v)
	}
	if v, _ := envValue(cmd.Env, "GIT_TERMINAL_PROMPT"); v != "0" {
		t.Errorf("GIT_TERMINAL_PROMPT = %q, want 0", v)
	}
	for _, arg := range cmd.Args {
		if strings.Contains(arg, "s3cret") {
			t.Fatalf("password leaked into argv: %v", cmd.Args)
		}
	}
	if cmd.Args[1] != "-c" || cmd.Args[2] != "credential.helper=" {
		t.Errorf("expected helper reset first, got %v", cmd.Args)
	}
	if v, _ := envValue(cmd.Env, usernameEnv); v != "me" {
		t.Errorf("%s = %q, want the username", usernameEnv, v)
	}
	if cmd.Args[4] != credentialHelper {
		t.Errorf("unexpected helper %q", cmd.Args[4])
	}
}

func TestConfigureAuth_UsernameIsNotExpanded(t *testing.T) {
	const username = "me$(echo injected)`id`$HOME"

	cmd := exec.Command("git", "fetch")
	configureAuth(cmd, "https://example.com/box.git", Credentials{Username: username, Password: "x"})

	for _, arg := range cmd.Args {
		if strings.Contains(arg, "injected") || strings.Contains(arg, "`id`") {
			t.Fatalf("username leaked into argv: %v", cmd.Args)
		}
	}
	if v, _ := envValue(cmd.Env, usernameEnv); v != username {
		t.Errorf("%s = %q, want %q", usernameEnv, v, username)
	}
}

func TestCredentialHelper_EchoesRawValues(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	const username = "me$(echo injected)`echo x`"

	helper := strings.TrimPrefix(credentialHelper, "credential.helper=!")
	cmd := exec.Command(sh, "-c", helper)
	cmd.Env = append(os.Environ(), usernameEnv+"="+username, credentialEnv+"=p$ss")

	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("helper failed: %v", err)
	}
	want := "username=" + username + "\npassword=p$ss\n"
	if string(out) != want {
		t.Errorf("helper output = %q, want %q", out, want)
	}
}

func TestConfigureAuth_SkipsNonHTTP(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		creds Credentials
	}{
		{name: "local path", url: "/srv/git/box.git", creds: Credentials{Username: "me", Password: "x"}},
		{name: "no credentials", url: "https://example.com/box.git"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := exec.Command("git", "fetch")
			configureAuth(cmd, tt.url, tt.creds)
			if _, ok := envValue(cmd.Env, credentialEnv); ok {
				t.Errorf("credential env must not be set")
			}
			if len(cmd.Args) != 2 {
				t.Errorf("args changed: %v", cmd.Args)
			}
		})
	}
}

func TestClassifyOutput(t *testing.T) {
	base := errors.New("exit status 128")
	tests := []struct {
		name string
		out  string
		want error
	}{
		{name: "auth", out: "fatal: Authentication failed for 'https://x'", want: ErrAuthRequired},
		{name: "prompt disabled", out: "fatal: could not read Username for 'https://x': terminal prompts disabled", want: ErrAuthRequired},
		{name: "rejected", out: " ! [rejected]        main -> main (fetch first)", want: ErrNotFastForward},
		{name: "missing", out: "fatal: '/nope' does not appear to be a git repository", want: ErrRemoteNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyOutput("push", base, tt.out)
			if !errors.Is(err, tt.want) {
				t.Errorf("classifyOutput() = %v, want %v", err, tt.want)
			}
		})
	}

	err := classifyOutput("fetch", base, "something else")
	if !errors.Is(err, base) {
		t.Errorf("unclassified output must wrap the original error, got %v", err)
	}
}
