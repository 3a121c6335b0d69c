package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileStore loads and stores the configuration record at Path.
type FileStore struct {
	Path string
}

// NewFileStore creates a store for the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the record. See Load.
func (s *FileStore) Load() (*Config, error) {
	return Load(s.Path)
}

// Store atomically replaces the record with cfg. Values that were read from
// the file and not changed since are written back unexpanded, so environment
// references such as ${GITBOX_PASSWORD} survive. The file is created with
// mode 0600 because it holds a password.
func (s *FileStore) Store(cfg *Config) error {
	path := os.ExpandEnv(s.Path)
	rec := cfg.record()

	data, err := codecFor(path).marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := writeFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// The record on disk now matches cfg.
	raw := rec
	raw.origin = nil
	loaded := *cfg
	loaded.origin = nil
	cfg.origin = &origin{raw: raw, loaded: loaded}
	return nil
}

// record returns the value to persist for c.
func (c *Config) record() Config {
	cur := *c
	cur.origin = nil
	if c.origin == nil {
		return cur
	}

	r, l := c.origin.raw, c.origin.loaded
	r.RepoURL = pick(r.RepoURL, l.RepoURL, cur.RepoURL)
	r.Branch = pick(r.Branch, l.Branch, cur.Branch)
	r.LocalWatch = pick(r.LocalWatch, l.LocalWatch, cur.LocalWatch)
	r.Username = pick(r.Username, l.Username, cur.Username)
	r.Password = pick(r.Password, l.Password, cur.Password)
	r.Cloned = cur.Cloned
	r.Debounce = cur.Debounce
	r.Backend = pick(r.Backend, l.Backend, cur.Backend)
	r.Author.Name = pick(r.Author.Name, l.Author.Name, cur.Author.Name)
	r.Author.Email = pick(r.Author.Email, l.Author.Email, cur.Author.Email)
	r.StateFile = pick(r.StateFile, l.StateFile, cur.StateFile)
	r.Serve.ListenAddr = pick(r.Serve.ListenAddr, l.Serve.ListenAddr, cur.Serve.ListenAddr)
	r.origin = nil
	return r
}

// pick keeps the raw value unless the current one differs from what was loaded.
func pick(raw, loaded, current string) string {
	if current == loaded {
		return raw
	}
	return current
}

type codec struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

func codecFor(path string) codec {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return codec{
			marshal: func(v any) ([]byte, error) {
				var b strings.Builder
				if err := toml.NewEncoder(&b).Encode(v); err != nil {
					return nil, err
				}
				return []byte(b.String()), nil
			},
			unmarshal: toml.Unmarshal,
		}
	}
	return codec{marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".gitbox-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
