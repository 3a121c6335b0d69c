// Package systemduser installs gitbox as a systemd user service.
package systemduser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/adrg/xdg"
)

// UnitName is the name of the installed unit.
const UnitName = "gitbox.service"

// StoppedExitStatus is the exit status of a daemon stopped by signal. The unit
// lists it under SuccessExitStatus so systemd does not restart it.
const StoppedExitStatus = 3

// Systemd provides operations for interacting with systemd user units
type Systemd interface {
	// DaemonReload reloads systemd user configuration
	DaemonReload(ctx context.Context) error
	// EnableNow enables and starts the unit
	EnableNow(ctx context.Context, unit string) error
	// IsAvailable checks if systemctl --user is accessible
	IsAvailable(ctx context.Context) (bool, error)
}

// Client implements Systemd by shelling out to systemctl --user
type Client struct {
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewClient creates a new systemd client
func NewClient() *Client {
	return &Client{run: systemctl}
}

func systemctl(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "systemctl", append([]string{"--user"}, args...)...)
	return cmd.CombinedOutput()
}

// DaemonReload reloads systemd user daemon configuration
func (c *Client) DaemonReload(ctx context.Context) error {
	output, err := c.run(ctx, "daemon-reload")
	if err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// EnableNow enables the unit and starts it immediately.
func (c *Client) EnableNow(ctx context.Context, unit string) error {
	output, err := c.run(ctx, "enable", "--now", unit)
	if err != nil {
		return fmt.Errorf("systemctl enable --now %s failed: %w: %s", unit, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// IsAvailable checks if systemctl --user is accessible
func (c *Client) IsAvailable(ctx context.Context) (bool, error) {
	_, err := c.run(ctx, "status")

	// systemctl status returns non-zero for degraded systems, but it's still available
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// Exit codes 1-3 are normal for systemctl status
			if exitErr.ExitCode() <= 3 {
				return true, nil
			}
		}
		return false, fmt.Errorf("systemctl --user not available: %w", err)
	}

	return true, nil
}

// Unit describes the service unit to render.
type Unit struct {
	// Executable is the absolute path of the gitbox binary.
	Executable string
	// ConfigPath is passed to gitbox run --config.
	ConfigPath string
	// LogLevel is passed to --log-level when set.
	LogLevel string
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=gitbox directory sync
Documentation=https://github.com/schaermu/gitbox
Wants=network-online.target
After=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=30
SuccessExitStatus={{.Stopped}}

[Install]
WantedBy=default.target
`))

// Render returns the unit file contents.
func (u Unit) Render() ([]byte, error) {
	if !filepath.IsAbs(u.Executable) {
		return nil, fmt.Errorf("executable path must be absolute: %s", u.Executable)
	}
	if u.ConfigPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	args := []string{u.Executable, "run", "--config", u.ConfigPath}
	if u.LogLevel != "" {
		args = append(args, "--log-level", u.LogLevel)
	}
	for i, a := range args {
		args[i] = quote(a)
	}

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, struct {
		Exec    string
		Stopped int
	}{strings.Join(args, " "), StoppedExitStatus})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// quote escapes systemd specifiers (%) and variable references ($), then
// wraps values containing whitespace or quotes in systemd's double-quote
// syntax.
func quote(s string) string {
	s = strings.NewReplacer(`%`, `%%`, `$`, `$$`).Replace(s)
	if !strings.ContainsAny(s, " \t\"\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// UnitPath returns where the user unit is installed.
func UnitPath() string {
	return filepath.Join(xdg.ConfigHome, "systemd", "user", UnitName)
}

// Install renders u and writes it to path.
func Install(u Unit, path string) error {
	data, err := u.Render()
	if err != nil {
		return fmt.Errorf("failed to render unit: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gitbox-unit-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write unit: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to install unit: %w", err)
	}
	return nil
}
