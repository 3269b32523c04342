package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"warble/internal/model"
	"warble/internal/window"
)

// Version of the persisted state layout. Bump on incompatible changes.
const Version = 1

// ErrCorruptState marks state that exists but cannot be trusted. The
// caller must stop and let an operator intervene; counters are never
// silently reset because that would reopen spent quota.
var ErrCorruptState = errors.New("corrupt state")

// Counter tracks how many actions of one kind happened inside one
// concrete quota window.
type Counter struct {
	Action   model.Action `json:"action"`
	Kind     string       `json:"kind"`
	WindowID int64        `json:"windowId"`
	Count    int64        `json:"count"`
}

// TargetState is the per-influencer bookkeeping. LastSeenPostID
// survives across cycles and restarts so the same post is never
// processed twice.
type TargetState struct {
	Handle           string `json:"handle"`
	ActionsThisCycle int    `json:"actionsThisCycle"`
	LastSeenPostID   string `json:"lastSeenPostId"`
}

// CycleState identifies the rotation through the target list that is
// currently underway.
type CycleState struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// PersistedState is the single durable document. Counters are keyed
// "<action>:<kind>:<windowId>".
type PersistedState struct {
	Version  int                     `json:"version"`
	Counters map[string]*Counter     `json:"counters"`
	Targets  map[string]*TargetState `json:"targets"`
	Cycle    CycleState              `json:"cycle"`
	SavedAt  time.Time               `json:"savedAt"`
}

func newPersistedState() *PersistedState {
	return &PersistedState{
		Version:  Version,
		Counters: map[string]*Counter{},
		Targets:  map[string]*TargetState{},
	}
}

func counterKey(action model.Action, kind window.Kind, id int64) string {
	return fmt.Sprintf("%s:%s:%d", action, kind, id)
}

// Store owns the in-memory state and the durable backend behind it.
// All reads and writes go through the store so that an increment and
// the read it was based on cannot interleave with another mutation.
type Store struct {
	mu      sync.Mutex
	backend Backend
	st      *PersistedState
	nowFn   func() time.Time
}

// Open loads state from the backend. A backend with no saved state
// yields a fresh store (first run). Unreadable or unparsable state is
// returned as an error wrapping ErrCorruptState.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	st, err := backend.Load(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "load state")
	}
	if st == nil {
		st = newPersistedState()
	} else {
		if st.Version != Version {
			return nil, errors.WithMessagef(ErrCorruptState, "unsupported state version %d", st.Version)
		}
		if st.Counters == nil {
			st.Counters = map[string]*Counter{}
		}
		if st.Targets == nil {
			st.Targets = map[string]*TargetState{}
		}
	}
	return &Store{backend: backend, st: st, nowFn: time.Now}, nil
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Increment adds delta to the counter for the given action and window,
// creating it on first use, and returns the new total.
func (s *Store) Increment(action model.Action, w window.Window, delta int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := counterKey(action, w.Kind, w.ID)
	c, ok := s.st.Counters[key]
	if !ok {
		c = &Counter{Action: action, Kind: w.Kind.String(), WindowID: w.ID}
		s.st.Counters[key] = c
	}
	c.Count += delta
	return c.Count
}

// Count returns the recorded total for the given action and window,
// zero when no actions happened in it.
func (s *Store) Count(action model.Action, w window.Window) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.st.Counters[counterKey(action, w.Kind, w.ID)]; ok {
		return c.Count
	}
	return 0
}

// Save flushes the full state to the backend. The backend contract is
// all-or-nothing: after a failed save the previously committed state
// is still intact.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	s.st.Version = Version
	s.st.SavedAt = s.nowFn().UTC()
	snap := s.st.clone()
	s.mu.Unlock()
	return errors.WithMessage(s.backend.Save(ctx, snap), "save state")
}

// PruneExpired drops counters whose window closed more than grace
// window lengths before now and returns how many were removed. The
// active window and its immediate predecessors within the grace are
// always kept.
func (s *Store) PruneExpired(now time.Time, grace int64) int {
	if grace < 0 {
		grace = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for key, c := range s.st.Counters {
		kind, ok := window.KindNamed(c.Kind)
		if !ok {
			// Unknown kind came from a newer layout; leave it alone.
			continue
		}
		cur := window.At(kind, now)
		if cur.ID-c.WindowID > grace {
			delete(s.st.Counters, key)
			pruned++
		}
	}
	return pruned
}

// EnsureTargets creates tracking entries for any handles that have
// none. Entries for handles no longer configured are kept; their
// last-seen markers stay valid if the handle returns.
func (s *Store) EnsureTargets(handles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range handles {
		if _, ok := s.st.Targets[h]; !ok {
			s.st.Targets[h] = &TargetState{Handle: h}
		}
	}
}

// Target returns a copy of the state for handle.
func (s *Store) Target(handle string) (TargetState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.st.Targets[handle]; ok {
		return *t, true
	}
	return TargetState{}, false
}

// RecordTargetAction counts one completed action against the handle's
// per-cycle allowance. Call only after the external action succeeded.
func (s *Store) RecordTargetAction(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.Targets[handle]
	if !ok {
		t = &TargetState{Handle: handle}
		s.st.Targets[handle] = t
	}
	t.ActionsThisCycle++
}

// SetLastSeen advances the newest-processed marker for handle. It
// never moves backwards.
func (s *Store) SetLastSeen(handle, postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.Targets[handle]
	if !ok {
		t = &TargetState{Handle: handle}
		s.st.Targets[handle] = t
	}
	if postID == "" || !(model.Post{ID: postID}).NewerThan(t.LastSeenPostID) {
		return
	}
	t.LastSeenPostID = postID
}

// StartCycle begins a fresh rotation: every target's per-cycle count
// returns to zero. Quota counters are untouched.
func (s *Store) StartCycle(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Cycle = CycleState{ID: id, StartedAt: now.UTC()}
	for _, t := range s.st.Targets {
		t.ActionsThisCycle = 0
	}
}

// Cycle returns the current cycle descriptor.
func (s *Store) Cycle() CycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Cycle
}

// Snapshot returns a deep copy of the full state for inspection.
func (s *Store) Snapshot() PersistedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.st.clone()
}

func (p *PersistedState) clone() *PersistedState {
	out := &PersistedState{
		Version:  p.Version,
		Counters: make(map[string]*Counter, len(p.Counters)),
		Targets:  make(map[string]*TargetState, len(p.Targets)),
		Cycle:    p.Cycle,
		SavedAt:  p.SavedAt,
	}
	for k, c := range p.Counters {
		cc := *c
		out.Counters[k] = &cc
	}
	for k, t := range p.Targets {
		tt := *t
		out.Targets[k] = &tt
	}
	return out
}
