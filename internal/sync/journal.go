package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Snapshot is the observable outcome of the sync loop. Fetch and commit
// failures are never surfaced as errors; this is where they show up.
type Snapshot struct {
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Events  int `json:"events"`
	Skipped int `json:"skipped"`

	Fetches        int       `json:"fetches"`
	FetchFailures  int       `json:"fetch_failures"`
	LastFetchAt    time.Time `json:"last_fetch_at,omitempty"`
	LastFetchError string    `json:"last_fetch_error,omitempty"`

	Commits         int    `json:"commits"`
	CommitFailures  int    `json:"commit_failures"`
	LastCommit      string `json:"last_commit,omitempty"`
	LastMessage     string `json:"last_message,omitempty"`
	LastCommitError string `json:"last_commit_error,omitempty"`

	Pushes        int       `json:"pushes"`
	LastPushAt    time.Time `json:"last_push_at,omitempty"`
	LastPushError string    `json:"last_push_error,omitempty"`
}

// Journal records sync outcomes. It is safe for concurrent use: the sync
// loop writes while the status endpoint reads.
type Journal struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	j := &Journal{now: time.Now}
	j.snap.StartedAt = j.now()
	return j
}

// Snapshot returns a copy of the current state.
func (j *Journal) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}

func (j *Journal) update(fn func(s *Snapshot, now time.Time)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	fn(&j.snap, now)
	j.snap.UpdatedAt = now
}

func (j *Journal) recordEvent(in Intent) {
	j.update(func(s *Snapshot, _ time.Time) {
		s.Events++
		s.LastMessage = in.Message
	})
}

func (j *Journal) recordSkipped() {
	j.update(func(s *Snapshot, _ time.Time) { s.Skipped++ })
}

func (j *Journal) recordFetch(err error) {
	j.update(func(s *Snapshot, now time.Time) {
		s.Fetches++
		s.LastFetchAt = now
		s.LastFetchError = errString(err)
		if err != nil {
			s.FetchFailures++
		}
	})
}

func (j *Journal) recordCommit(id string, err error) {
	j.update(func(s *Snapshot, _ time.Time) {
		s.LastCommitError = errString(err)
		if err != nil {
			s.CommitFailures++
			return
		}
		s.Commits++
		s.LastCommit = id
	})
}

func (j *Journal) recordPush(err error) {
	j.update(func(s *Snapshot, now time.Time) {
		s.LastPushError = errString(err)
		if err == nil {
			s.Pushes++
			s.LastPushAt = now
		}
	})
}

// Save writes the current snapshot to path as JSON, replacing it atomically.
func (j *Journal) Save(path string) error {
	snap := j.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadSnapshot reads a snapshot written by Save.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse status file: %w", err)
	}
	return &snap, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
