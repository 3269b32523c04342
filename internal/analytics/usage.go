package analytics

import (
	"sort"
	"time"

	"warble/internal/model"
	"warble/internal/state"
	"warble/internal/window"
)

// UsageRow is one quota window's recorded activity.
type UsageRow struct {
	Kind    string
	Start   time.Time
	Replies int64
	Likes   int64
}

// WindowUsage aggregates persisted counters into per-window rows,
// oldest first. Counters with an unrecognized window kind are left
// out rather than guessed at.
func WindowUsage(st state.PersistedState) []UsageRow {
	type bucket struct {
		kind string
		id   int64
	}
	rows := make(map[bucket]*UsageRow)
	for _, c := range st.Counters {
		k, known := window.KindNamed(c.Kind)
		if !known {
			continue
		}
		b := bucket{kind: c.Kind, id: c.WindowID}
		r, ok := rows[b]
		if !ok {
			secs := int64(k.Length() / time.Second)
			r = &UsageRow{Kind: c.Kind, Start: time.Unix(c.WindowID*secs, 0).UTC()}
			rows[b] = r
		}
		switch c.Action {
		case model.ActionReply:
			r.Replies += c.Count
		case model.ActionLike:
			r.Likes += c.Count
		}
	}
	out := make([]UsageRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
