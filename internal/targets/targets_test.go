package targets

import (
	"context"
	"testing"
	"time"

	"warble/internal/state"
)

func newStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(context.Background(), state.NewMemoryBackend())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSelectKeepsConfigurationOrder(t *testing.T) {
	s := newStore(t)
	sel := New(s, []string{"zoe", "alice", "mara"}, 2, 0)
	picks := sel.Select()
	if len(picks) != 3 {
		t.Fatalf("picks = %d, want 3", len(picks))
	}
	for i, want := range []string{"zoe", "alice", "mara"} {
		if picks[i].Handle != want {
			t.Fatalf("pick[%d] = %q, want %q", i, picks[i].Handle, want)
		}
		if picks[i].Allowed != 2 {
			t.Fatalf("pick[%d] allowed = %d, want 2", i, picks[i].Allowed)
		}
	}
}

func TestCappedTargetsAreExcluded(t *testing.T) {
	s := newStore(t)
	sel := New(s, []string{"alice", "bob"}, 1, 0)
	sel.MaybeStartCycle(time.Now())
	sel.RecordAction("alice")

	picks := sel.Select()
	if len(picks) != 1 || picks[0].Handle != "bob" {
		t.Fatalf("picks = %+v, want only bob", picks)
	}
	if sel.Exhausted() {
		t.Fatal("not exhausted while bob has allowance")
	}
	sel.RecordAction("bob")
	if len(sel.Select()) != 0 {
		t.Fatal("expected no picks once everyone hit the cap")
	}
	if !sel.Exhausted() {
		t.Fatal("expected exhausted")
	}
}

func TestAllowedShrinksWithUse(t *testing.T) {
	s := newStore(t)
	sel := New(s, []string{"alice"}, 3, 0)
	sel.MaybeStartCycle(time.Now())
	sel.RecordAction("alice")
	picks := sel.Select()
	if len(picks) != 1 || picks[0].Allowed != 2 {
		t.Fatalf("picks = %+v, want alice with 2 allowed", picks)
	}
}

func TestMaybeStartCycleOnFreshState(t *testing.T) {
	s := newStore(t)
	sel := New(s, []string{"alice"}, 1, 0)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	started, id := sel.MaybeStartCycle(now)
	if !started || id == "" {
		t.Fatalf("expected new cycle on fresh state, got started=%v id=%q", started, id)
	}
	// A later tick inside the same cycle does not reset it.
	started, id2 := sel.MaybeStartCycle(now.Add(time.Minute))
	if started || id2 != id {
		t.Fatalf("cycle restarted on tick boundary: started=%v id=%q", started, id2)
	}
}

func TestCycleRestartsWhenExhausted(t *testing.T) {
	s := newStore(t)
	sel := New(s, []string{"alice", "bob"}, 1, 0)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	_, first := sel.MaybeStartCycle(now)
	sel.RecordAction("alice")
	sel.RecordAction("bob")

	started, second := sel.MaybeStartCycle(now.Add(time.Minute))
	if !started || second == first {
		t.Fatalf("expected fresh cycle after exhaustion, started=%v id=%q", started, second)
	}
	// Everyone is eligible again.
	if len(sel.Select()) != 2 {
		t.Fatal("expected both targets eligible after reset")
	}
}

func TestCycleRestartsAfterMaxDuration(t *testing.T) {
	s := newStore(t)
	sel := New(s, []string{"alice", "bob"}, 5, time.Hour)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	_, first := sel.MaybeStartCycle(now)
	sel.RecordAction("alice")

	// Within the hour nothing changes even though bob is untouched.
	if started, _ := sel.MaybeStartCycle(now.Add(30 * time.Minute)); started {
		t.Fatal("cycle restarted before max duration")
	}
	started, second := sel.MaybeStartCycle(now.Add(time.Hour))
	if !started || second == first {
		t.Fatalf("expected restart after max duration, started=%v", started)
	}
	if tgt, _ := s.Target("alice"); tgt.ActionsThisCycle != 0 {
		t.Fatalf("alice cycle count = %d, want 0 after restart", tgt.ActionsThisCycle)
	}
}

func TestCycleSurvivesRestartFromPersistedState(t *testing.T) {
	backend := state.NewMemoryBackend()
	s, err := state.Open(context.Background(), backend)
	if err != nil {
		t.Fatal(err)
	}
	sel := New(s, []string{"alice", "bob"}, 1, 0)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	_, id := sel.MaybeStartCycle(now)
	sel.RecordAction("alice")
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}

	// New process: alice's turn is already spent, bob's is not.
	s2, err := state.Open(context.Background(), backend)
	if err != nil {
		t.Fatal(err)
	}
	sel2 := New(s2, []string{"alice", "bob"}, 1, 0)
	if started, id2 := sel2.MaybeStartCycle(now.Add(time.Minute)); started || id2 != id {
		t.Fatalf("restart must continue the persisted cycle, started=%v", started)
	}
	picks := sel2.Select()
	if len(picks) != 1 || picks[0].Handle != "bob" {
		t.Fatalf("picks after restart = %+v, want only bob", picks)
	}
}
