package targets

import (
	"time"

	"github.com/google/uuid"

	"warble/internal/state"
)

// Pick is one eligible target with the number of actions it may still
// receive this cycle.
type Pick struct {
	Handle  string
	Allowed int
}

// CycleStore is the slice of the state store the selector needs.
type CycleStore interface {
	EnsureTargets(handles []string)
	Target(handle string) (state.TargetState, bool)
	RecordTargetAction(handle string)
	StartCycle(id string, now time.Time)
	Cycle() state.CycleState
}

// Selector walks the influencer list in configuration order and
// spreads attention across a cycle: each target gets at most perCycle
// actions until every target had its turn or the cycle times out.
type Selector struct {
	store    CycleStore
	handles  []string
	perCycle int
	maxCycle time.Duration
	newID    func() string
}

func New(store CycleStore, handles []string, perCycle int, maxCycle time.Duration) *Selector {
	store.EnsureTargets(handles)
	return &Selector{
		store:    store,
		handles:  handles,
		perCycle: perCycle,
		maxCycle: maxCycle,
		newID:    uuid.NewString,
	}
}

// Select returns the targets still below their per-cycle cap, in
// configuration order. The order is stable so reasoning about "who
// gets the remaining budget" stays reproducible across restarts.
func (s *Selector) Select() []Pick {
	picks := make([]Pick, 0, len(s.handles))
	for _, h := range s.handles {
		used := 0
		if t, ok := s.store.Target(h); ok {
			used = t.ActionsThisCycle
		}
		if allowed := s.perCycle - used; allowed > 0 {
			picks = append(picks, Pick{Handle: h, Allowed: allowed})
		}
	}
	return picks
}

// RecordAction counts one completed action against the handle's cycle
// allowance. Call only after the action actually happened.
func (s *Selector) RecordAction(handle string) {
	s.store.RecordTargetAction(handle)
}

// Exhausted reports whether every configured target reached its cap.
func (s *Selector) Exhausted() bool {
	for _, h := range s.handles {
		used := 0
		if t, ok := s.store.Target(h); ok {
			used = t.ActionsThisCycle
		}
		if used < s.perCycle {
			return false
		}
	}
	return len(s.handles) > 0
}

// MaybeStartCycle begins a new cycle when none is underway, when all
// targets are exhausted, or when the running cycle outlived its
// maximum duration. A tick boundary alone never resets a cycle.
func (s *Selector) MaybeStartCycle(now time.Time) (bool, string) {
	c := s.store.Cycle()
	fresh := c.ID == ""
	expired := s.maxCycle > 0 && !c.StartedAt.IsZero() && now.Sub(c.StartedAt) >= s.maxCycle
	if !fresh && !expired && !s.Exhausted() {
		return false, c.ID
	}
	id := s.newID()
	s.store.StartCycle(id, now)
	return true, id
}
