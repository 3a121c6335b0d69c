// Package config loads and persists the gitbox configuration record.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// AppName names the configuration, state and unit directories.
const AppName = "gitbox"

// Defaults applied to optional keys.
const (
	DefaultDebounce = 10 * time.Second
	DefaultBackend  = "go-git"
)

// Config is the persisted configuration record. The first six keys are the
// ones the service has always used; the rest are optional.
type Config struct {
	RepoURL    string `yaml:"repourl" toml:"repourl"`
	Branch     string `yaml:"branch" toml:"branch"`
	LocalWatch string `yaml:"localwatch" toml:"localwatch"`
	Username   string `yaml:"username" toml:"username"`
	Password   string `yaml:"password" toml:"password"`
	// Cloned is true once LocalWatch holds a clone of RepoURL. It only ever
	// flips from false to true.
	Cloned bool `yaml:"cloned" toml:"cloned"`

	Debounce  Duration     `yaml:"debounce,omitempty" toml:"debounce,omitzero"`
	Backend   string       `yaml:"backend,omitempty" toml:"backend,omitempty"`
	Author    AuthorConfig `yaml:"author,omitempty" toml:"author,omitempty"`
	StateFile string       `yaml:"state_file,omitempty" toml:"state_file,omitempty"`
	Serve     ServeConfig  `yaml:"serve,omitempty" toml:"serve,omitempty"`

	origin *origin
}

// AuthorConfig fixes the identity recorded on commits.
type AuthorConfig struct {
	Name  string `yaml:"name,omitempty" toml:"name,omitempty"`
	Email string `yaml:"email,omitempty" toml:"email,omitempty"`
}

// ServeConfig configures the optional status endpoint
type ServeConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty" toml:"listen_addr,omitempty"`
}

// origin remembers the record as read from disk, before and after
// environment expansion, so that Store can write back unexpanded values.
type origin struct {
	raw    Config
	loaded Config
}

// Load reads, expands and validates the configuration file at path. Files
// ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := codecFor(path).unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	raw := cfg
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.origin = &origin{raw: raw, loaded: cfg}
	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.RepoURL = os.ExpandEnv(c.RepoURL)
	c.Branch = os.ExpandEnv(c.Branch)
	c.LocalWatch = os.ExpandEnv(c.LocalWatch)
	c.Username = os.ExpandEnv(c.Username)
	c.Password = os.ExpandEnv(c.Password)
	c.Backend = os.ExpandEnv(c.Backend)
	c.Author.Name = os.ExpandEnv(c.Author.Name)
	c.Author.Email = os.ExpandEnv(c.Author.Email)
	c.StateFile = os.ExpandEnv(c.StateFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
}

// Validate checks the configuration for errors. Username and password may
// be empty: ssh, local and anonymous remotes need no credentials.
func (c *Config) Validate() error {
	if c.RepoURL == "" {
		return fmt.Errorf("repourl is required")
	}
	if c.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if c.LocalWatch == "" {
		return fmt.Errorf("localwatch is required")
	}
	if !filepath.IsAbs(c.LocalWatch) {
		return fmt.Errorf("localwatch must be an absolute path: %s", c.LocalWatch)
	}
	if c.StateFile != "" && !filepath.IsAbs(c.StateFile) {
		return fmt.Errorf("state_file must be an absolute path: %s", c.StateFile)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative: %s", c.Debounce)
	}

	switch c.Backend {
	case "", "go-git", "git":
		// valid
	default:
		return fmt.Errorf("invalid backend: %s (must be go-git or git)", c.Backend)
	}

	return nil
}

// DebounceWindow returns the configured debounce window or the default.
func (c *Config) DebounceWindow() time.Duration {
	if c.Debounce == 0 {
		return DefaultDebounce
	}
	return time.Duration(c.Debounce)
}

// BackendName returns the configured repository backend or the default.
func (c *Config) BackendName() string {
	if c.Backend == "" {
		return DefaultBackend
	}
	return c.Backend
}

// StatePath returns the path of the status journal.
func (c *Config) StatePath() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	return DefaultStatePath()
}

// Identity returns the commit author. Unset fields fall back to the current
// OS user: the display name (or login) and login@hostname.
func (c *Config) Identity() (name, email string) {
	name, email = c.Author.Name, c.Author.Email
	if name != "" && email != "" {
		return name, email
	}

	login := "gitbox"
	display := ""
	if u, err := user.Current(); err == nil {
		login = u.Username
		display = u.Name
	}
	if display == "" {
		display = login
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	if name == "" {
		name = display
	}
	if email == "" {
		email = login + "@" + host
	}
	return name, email
}

// DefaultPath returns the default configuration file location. An existing
// config.toml is preferred over a missing config.yaml.
func DefaultPath() string {
	dir := filepath.Join(xdg.ConfigHome, AppName)
	yamlPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(yamlPath); err != nil {
		tomlPath := filepath.Join(dir, "config.toml")
		if _, err := os.Stat(tomlPath); err == nil {
			return tomlPath
		}
	}
	return yamlPath
}

// DefaultStatePath returns the default status journal location.
func DefaultStatePath() string {
	return filepath.Join(xdg.StateHome, AppName, "status.json")
}
