package window

import (
	"fmt"
	"time"
)

// Kind selects one of the quota windows tracked by the bot.
type Kind int

const (
	// FifteenMinute tracks actions in 900-second buckets.
	FifteenMinute Kind = iota
	// Daily tracks actions in 24-hour buckets aligned to UTC midnight.
	Daily
)

// Kinds lists every window kind in a stable order.
func Kinds() []Kind { return []Kind{FifteenMinute, Daily} }

// Length returns the duration of the window.
func (k Kind) Length() time.Duration {
	switch k {
	case FifteenMinute:
		return 15 * time.Minute
	case Daily:
		return 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}

func (k Kind) String() string {
	switch k {
	case FifteenMinute:
		return "15m"
	case Daily:
		return "daily"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindNamed maps a persisted kind name back to its Kind.
func KindNamed(name string) (Kind, bool) {
	switch name {
	case "15m":
		return FifteenMinute, true
	case "daily":
		return Daily, true
	}
	return 0, false
}

// Window is one concrete bucket of a window kind. Windows are derived
// from the clock on demand and never stored.
type Window struct {
	Kind  Kind
	ID    int64
	Start time.Time
	End   time.Time
}

// At returns the window of kind k that contains the instant now.
// The ID is the number of whole window lengths since the Unix epoch,
// so two processes computing the window for the same instant always
// agree. Daily IDs roll over at UTC midnight because 86400 divides
// the epoch evenly.
func At(k Kind, now time.Time) Window {
	secs := int64(k.Length() / time.Second)
	id := now.Unix() / secs
	start := time.Unix(id*secs, 0).UTC()
	return Window{
		Kind:  k,
		ID:    id,
		Start: start,
		End:   start.Add(k.Length()),
	}
}

// UntilRollover returns how long until the window of kind k containing
// now closes. The result is always in (0, Length].
func UntilRollover(k Kind, now time.Time) time.Duration {
	return At(k, now).End.Sub(now)
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
