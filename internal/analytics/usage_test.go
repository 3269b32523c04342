package analytics

import (
	"testing"
	"time"

	"warble/internal/model"
	"warble/internal/state"
	"warble/internal/window"
)

func TestWindowUsageGroupsAndSorts(t *testing.T) {
	now := time.Date(2025, 9, 1, 10, 7, 0, 0, time.UTC)
	w15 := window.At(window.FifteenMinute, now)
	w15prev := window.At(window.FifteenMinute, now.Add(-15*time.Minute))
	day := window.At(window.Daily, now)

	st := state.PersistedState{Counters: map[string]*state.Counter{
		"a": {Action: model.ActionReply, Kind: "15m", WindowID: w15.ID, Count: 3},
		"b": {Action: model.ActionLike, Kind: "15m", WindowID: w15.ID, Count: 2},
		"c": {Action: model.ActionReply, Kind: "15m", WindowID: w15prev.ID, Count: 5},
		"d": {Action: model.ActionReply, Kind: "daily", WindowID: day.ID, Count: 8},
		"e": {Action: model.ActionLike, Kind: "moonly", WindowID: 1, Count: 9},
	}}

	rows := WindowUsage(st)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (unknown kind dropped)", len(rows))
	}
	if !rows[0].Start.Equal(day.Start) || rows[0].Replies != 8 {
		t.Fatalf("first row = %+v, want the daily window (oldest start)", rows[0])
	}
	if !rows[1].Start.Equal(w15prev.Start) || rows[1].Replies != 5 {
		t.Fatalf("second row = %+v, want the earlier quarter hour", rows[1])
	}
	if !rows[2].Start.Equal(w15.Start) || rows[2].Replies != 3 || rows[2].Likes != 2 {
		t.Fatalf("third row = %+v, want both actions merged", rows[2])
	}
}

func TestWindowUsageEmptyState(t *testing.T) {
	if rows := WindowUsage(state.PersistedState{}); len(rows) != 0 {
		t.Fatalf("rows = %v, want none", rows)
	}
}
