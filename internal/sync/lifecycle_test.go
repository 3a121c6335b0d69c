package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/schaermu/gitbox/internal/daemon"
	"github.com/schaermu/gitbox/internal/git"
	"github.com/schaermu/gitbox/internal/watch"
)

// watcherQueue hands out pre-built watchers, one per session.
type watcherQueue struct {
	mu   sync.Mutex
	next []*fakeWatcher
}

func (q *watcherQueue) factory(window time.Duration) Watcher {
	q.mu.Lock()
	defer q.mu.Unlock()
	w := q.next[0]
	q.next = q.next[1:]
	w.window = window
	return w
}

func serveEngine(store *mockStore, backend *mockBackend, watchers ...*fakeWatcher) *Engine {
	q := &watcherQueue{next: watchers}
	return NewEngine(store,
		func(string) (git.Backend, error) { return backend, nil },
		q.factory, nil, testLogger())
}

func runServe(e *Engine, states <-chan daemon.State) <-chan error {
	result := make(chan error, 1)
	go func() { result <- e.Serve(context.Background(), states) }()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func waitWatching(t *testing.T, w *fakeWatcher) {
	t.Helper()
	select {
	case <-w.watching:
	case <-time.After(2 * time.Second):
		t.Fatal("session never started watching")
	}
}

func TestServe_StartThenStop(t *testing.T) {
	cfg := testConfig(t)
	store := &mockStore{cfg: cfg}
	backend := &mockBackend{repo: &mockRepo{}}
	w := newFakeWatcher(0)
	e := serveEngine(store, backend, w)

	states := make(chan daemon.State)
	result := runServe(e, states)

	states <- daemon.Start
	waitWatching(t, w)
	states <- daemon.Stop

	if err := waitResult(t, result); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if w.ctx.Err() == nil {
		t.Error("stop must cancel the running session")
	}
	if backend.clones != 1 {
		t.Errorf("expected a single clone, got %d", backend.clones)
	}
}

func TestServe_ReloadRestartsSession(t *testing.T) {
	cfg := testConfig(t)
	store := &mockStore{cfg: cfg}
	backend := &mockBackend{repo: &mockRepo{}}
	w1, w2 := newFakeWatcher(0), newFakeWatcher(0)
	e := serveEngine(store, backend, w1, w2)

	states := make(chan daemon.State)
	result := runServe(e, states)

	states <- daemon.Start
	waitWatching(t, w1)
	states <- daemon.Reload
	waitWatching(t, w2)

	if w1.ctx.Err() == nil {
		t.Error("reload must cancel the previous session")
	}
	if store.loads != 2 {
		t.Errorf("reload must re-read the configuration, got %d loads", store.loads)
	}

	states <- daemon.Stop
	if err := waitResult(t, result); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if backend.clones != 1 || backend.opens != 1 {
		t.Errorf("expected clone then open, got clones=%d opens=%d", backend.clones, backend.opens)
	}
}

func TestServe_FatalSessionError(t *testing.T) {
	tests := []struct {
		name    string
		store   *mockStore
		backend *mockBackend
		want    error
	}{
		{name: "config unreadable", store: &mockStore{loadErr: errors.New("no file")}, backend: &mockBackend{}, want: ErrConfigUnreadable},
		{name: "clone failed", store: &mockStore{}, backend: &mockBackend{cloneErr: errors.New("denied")}, want: ErrCloneFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.store.cfg == nil {
				tt.store.cfg = testConfig(t)
			}
			e := serveEngine(tt.store, tt.backend, newFakeWatcher(0))

			states := make(chan daemon.State, 1)
			states <- daemon.Start

			err := waitResult(t, runServe(e, states))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestServe_PushFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	repo := &mockRepo{pushErr: errors.New("rejected")}
	w := newFakeWatcher(1)
	w.events <- ev(watch.Created, "a.txt")
	e := serveEngine(&mockStore{cfg: cfg}, &mockBackend{repo: repo}, w)

	states := make(chan daemon.State, 1)
	states <- daemon.Start

	if err := waitResult(t, runServe(e, states)); !errors.Is(err, ErrPushFailed) {
		t.Fatalf("expected ErrPushFailed, got %v", err)
	}
}

func TestServe_WatcherClosedWaitsForNextState(t *testing.T) {
	cfg := testConfig(t)
	w1, w2 := newFakeWatcher(0), newFakeWatcher(0)
	e := serveEngine(&mockStore{cfg: cfg}, &mockBackend{repo: &mockRepo{}}, w1, w2)

	states := make(chan daemon.State)
	result := runServe(e, states)

	states <- daemon.Start
	waitWatching(t, w1)
	close(w1.events)

	select {
	case err := <-result:
		t.Fatalf("Serve returned after the watcher closed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	states <- daemon.Reload
	waitWatching(t, w2)
	states <- daemon.Stop

	if err := waitResult(t, result); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestServe_ContextCancel(t *testing.T) {
	cfg := testConfig(t)
	w := newFakeWatcher(0)
	e := serveEngine(&mockStore{cfg: cfg}, &mockBackend{repo: &mockRepo{}}, w)

	ctx, cancel := context.WithCancel(context.Background())
	states := make(chan daemon.State, 1)
	states <- daemon.Start

	result := make(chan error, 1)
	go func() { result <- e.Serve(ctx, states) }()

	waitWatching(t, w)
	cancel()

	if err := waitResult(t, result); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if w.ctx.Err() == nil {
		t.Error("session must be cancelled with the parent context")
	}
}
