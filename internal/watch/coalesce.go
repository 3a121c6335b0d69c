package watch

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// op is a raw filesystem operation.
type op int

const (
	opCreate op = iota
	opWrite
	opRemove
	opRename
)

type entry struct {
	ev    Event
	first time.Time
	seq   uint64
}

// renameCandidate remembers the last rename so that an immediately
// following create can be paired with it.
type renameCandidate struct {
	key    string
	origin string // path last known to the repository; empty if never committed
}

// coalescer folds raw operations into at most one Event per path per
// window. The window is fixed and starts at the first raw operation seen for
// a path. It is not safe for concurrent use.
type coalescer struct {
	window  time.Duration
	pending map[string]*entry
	rename  *renameCandidate
	seq     uint64
	// exists holds the paths currently on disk, as far as the raw operations
	// tell. A create on one of them replaces an existing file.
	exists map[string]bool
}

func newCoalescer(window time.Duration) *coalescer {
	return &coalescer{
		window:  window,
		pending: make(map[string]*entry),
		exists:  make(map[string]bool),
	}
}

// seed marks paths as already present on disk.
func (c *coalescer) seed(paths ...string) {
	for _, p := range paths {
		c.exists[p] = true
	}
}

// track updates the set of present paths and reports whether path existed
// before o.
func (c *coalescer) track(o op, path string) bool {
	existed := c.exists[path]
	switch o {
	case opCreate, opWrite:
		c.exists[path] = true
	case opRemove, opRename:
		delete(c.exists, path)
		prefix := path + string(filepath.Separator)
		for p := range c.exists {
			if strings.HasPrefix(p, prefix) {
				delete(c.exists, p)
			}
		}
	}
	return existed
}

// add records a raw operation on path observed at now.
func (c *coalescer) add(now time.Time, o op, path string) {
	existed := c.track(o, path)

	cand := c.rename
	c.rename = nil

	if o == opCreate && cand != nil && cand.key != path && cand.origin != "" {
		c.pair(now, cand, path)
		return
	}

	e, ok := c.pending[path]
	if !ok {
		if o == opCreate && existed {
			// Something was moved over an existing file, e.g. an editor
			// replacing it with a freshly written temp file.
			o = opWrite
		}
		c.start(now, o, path)
		return
	}

	switch e.ev.Kind {
	case Created:
		switch o {
		case opRemove:
			delete(c.pending, path)
		case opRename:
			delete(c.pending, path)
			c.rename = &renameCandidate{key: path}
		}
	case Modified:
		switch o {
		case opRemove:
			e.ev.Kind = Removed
		case opRename:
			e.ev.Kind = Removed
			c.rename = &renameCandidate{key: path, origin: path}
		}
	case Removed:
		switch o {
		case opCreate, opWrite:
			e.ev.Kind = Modified
		case opRename:
			c.rename = &renameCandidate{key: path, origin: path}
		}
	case Renamed:
		switch o {
		case opRemove, opRename:
			origin := e.ev.RenameSource
			e.ev = Event{Kind: Removed, Path: origin}
			if o == opRename {
				c.rename = &renameCandidate{key: path, origin: origin}
			}
		}
	}
}

func (c *coalescer) start(now time.Time, o op, path string) {
	var kind Kind
	switch o {
	case opCreate:
		kind = Created
	case opWrite:
		kind = Modified
	case opRemove:
		kind = Removed
	case opRename:
		kind = Removed
		c.rename = &renameCandidate{key: path, origin: path}
	}
	c.seq++
	c.pending[path] = &entry{ev: Event{Kind: kind, Path: path}, first: now, seq: c.seq}
}

// pair turns the removal left by a rename into a Renamed event on dest.
func (c *coalescer) pair(now time.Time, cand *renameCandidate, dest string) {
	first, seq := now, uint64(0)
	if e, ok := c.pending[cand.key]; ok {
		first, seq = e.first, e.seq
		delete(c.pending, cand.key)
	}
	if e, ok := c.pending[dest]; ok && (seq == 0 || e.seq < seq) {
		first, seq = e.first, e.seq
	}
	if seq == 0 {
		c.seq++
		seq = c.seq
	}
	c.pending[dest] = &entry{
		ev:    Event{Kind: Renamed, Path: dest, RenameSource: cand.origin},
		first: first,
		seq:   seq,
	}
}

// due removes and returns the events whose window has elapsed at now, in
// the order their first raw operation arrived.
func (c *coalescer) due(now time.Time) []Event {
	var ready []*entry
	for path, e := range c.pending {
		if now.Sub(e.first) >= c.window {
			ready = append(ready, e)
			delete(c.pending, path)
		}
	}
	if c.rename != nil {
		if _, ok := c.pending[c.rename.key]; !ok {
			c.rename = nil
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })

	events := make([]Event, len(ready))
	for i, e := range ready {
		events[i] = e.ev
	}
	return events
}

// next returns how long until the earliest pending window elapses.
func (c *coalescer) next(now time.Time) (time.Duration, bool) {
	var earliest time.Time
	for _, e := range c.pending {
		if earliest.IsZero() || e.first.Before(earliest) {
			earliest = e.first
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	d := earliest.Add(c.window).Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
