package systemduser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type recorder struct {
	calls [][]string
	out   []byte
	err   error
}

func (r *recorder) run(_ context.Context, args ...string) ([]byte, error) {
	r.calls = append(r.calls, args)
	return r.out, r.err
}

func TestNewClient(t *testing.T) {
	c := NewClient()
	if c == nil || c.run == nil {
		t.Fatal("NewClient returned an unusable client")
	}
}

func TestClient_Commands(t *testing.T) {
	rec := &recorder{}
	c := &Client{run: rec.run}

	if err := c.DaemonReload(context.Background()); err != nil {
		t.Fatalf("DaemonReload: %v", err)
	}
	if err := c.EnableNow(context.Background(), UnitName); err != nil {
		t.Fatalf("EnableNow: %v", err)
	}

	want := [][]string{{"daemon-reload"}, {"enable", "--now", "gitbox.service"}}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("calls = %v, want %v", rec.calls, want)
	}
}

func TestClient_CommandFailure(t *testing.T) {
	rec := &recorder{out: []byte("Failed to connect to bus\n"), err: errors.New("exit status 1")}
	c := &Client{run: rec.run}

	err := c.EnableNow(context.Background(), UnitName)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Failed to connect to bus") {
		t.Errorf("error should carry command output: %v", err)
	}
}

func TestIsAvailable_NotRunnable(t *testing.T) {
	c := &Client{run: func(context.Context, ...string) ([]byte, error) {
		return nil, errors.New("executable file not found")
	}}
	ok, err := c.IsAvailable(context.Background())
	if ok || err == nil {
		t.Errorf("IsAvailable() = %v, %v; want false with error", ok, err)
	}
}

func TestUnitRender(t *testing.T) {
	u := Unit{Executable: "/usr/local/bin/gitbox", ConfigPath: "/home/me/.config/gitbox/config.yaml", LogLevel: "debug"}
	data, err := u.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	unit := string(data)

	for _, want := range []string{
		"ExecStart=/usr/local/bin/gitbox run --config /home/me/.config/gitbox/config.yaml --log-level debug\n",
		"Restart=on-failure\n",
		"SuccessExitStatus=3\n",
		"ExecReload=/bin/kill -HUP $MAINPID\n",
		"WantedBy=default.target\n",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestUnitRender_QuotesSpaces(t *testing.T) {
	u := Unit{Executable: "/opt/git box/gitbox", ConfigPath: "/tmp/my config.toml"}
	data, err := u.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `ExecStart="/opt/git box/gitbox" run --config "/tmp/my config.toml"`
	if !strings.Contains(string(data), want) {
		t.Errorf("unit missing %q:\n%s", want, data)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/usr/bin/gitbox", "/usr/bin/gitbox"},
		{"/home/me/100%/config.yaml", "/home/me/100%%/config.yaml"},
		{"/home/$USER/config.yaml", "/home/$$USER/config.yaml"},
		{"/tmp/a b/%h.yaml", `"/tmp/a b/%%h.yaml"`},
		{`/tmp/q"uote`, `"/tmp/q\"uote"`},
	}
	for _, tt := range tests {
		if got := quote(tt.in); got != tt.want {
			t.Errorf("quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnitRender_EscapesSpecifiers(t *testing.T) {
	u := Unit{Executable: "/usr/bin/gitbox", ConfigPath: "/srv/%i/$HOME.yaml"}
	data, err := u.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "ExecStart=/usr/bin/gitbox run --config /srv/%%i/$$HOME.yaml\n"
	if !strings.Contains(string(data), want) {
		t.Errorf("unit missing %q:\n%s", want, data)
	}
}

func TestUnitRender_Invalid(t *testing.T) {
	tests := []struct {
		name string
		unit Unit
	}{
		{"relative executable", Unit{Executable: "gitbox", ConfigPath: "/c.yaml"}},
		{"missing config", Unit{Executable: "/bin/gitbox"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.unit.Render(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInstall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "systemd", "user", UnitName)
	u := Unit{Executable: "/usr/bin/gitbox", ConfigPath: "/etc/gitbox.yaml"}

	if err := Install(u, path); err != nil {
		t.Fatalf("Install: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	want, _ := u.Render()
	if string(data) != string(want) {
		t.Errorf("installed unit differs from rendered unit")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("mode = %o, want 644", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the unit file, found %d entries", len(entries))
	}
}

func TestUnitPath(t *testing.T) {
	if !strings.HasSuffix(UnitPath(), filepath.Join("systemd", "user", "gitbox.service")) {
		t.Errorf("unexpected unit path %s", UnitPath())
	}
}
