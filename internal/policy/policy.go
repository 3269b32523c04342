package policy

import (
	"time"

	"warble/internal/model"
	"warble/internal/window"
)

// Limits are the configured ceilings per action kind. A limit of zero
// or less disables the action kind entirely.
type Limits struct {
	DailyReplies int64
	DailyLikes   int64
	Per15Replies int64
	Per15Likes   int64
}

// CountReader supplies recorded action totals for a window.
type CountReader interface {
	Count(action model.Action, w window.Window) int64
}

// Policy answers whether an action is currently permitted. It only
// reads counters; recording a performed action is the caller's job,
// after the external call succeeded.
type Policy struct {
	limits Limits
	counts CountReader
}

func New(limits Limits, counts CountReader) *Policy {
	return &Policy{limits: limits, counts: counts}
}

func (p *Policy) limitsFor(action model.Action) (daily, per15 int64) {
	switch action {
	case model.ActionReply:
		return p.limits.DailyReplies, p.limits.Per15Replies
	case model.ActionLike:
		return p.limits.DailyLikes, p.limits.Per15Likes
	default:
		return 0, 0
	}
}

// Remaining returns how many more actions of this kind may happen at
// the instant now: the tighter of the daily and 15-minute headrooms,
// floored at zero. Both windows are derived from the same now.
func (p *Policy) Remaining(action model.Action, now time.Time) int64 {
	daily, per15 := p.limitsFor(action)
	if daily <= 0 || per15 <= 0 {
		return 0
	}
	dailyLeft := daily - p.counts.Count(action, window.At(window.Daily, now))
	per15Left := per15 - p.counts.Count(action, window.At(window.FifteenMinute, now))
	left := dailyLeft
	if per15Left < left {
		left = per15Left
	}
	if left < 0 {
		return 0
	}
	return left
}

// CanAct reports whether at least one more action of this kind is
// permitted right now.
func (p *Policy) CanAct(action model.Action, now time.Time) bool {
	return p.Remaining(action, now) > 0
}

// Enabled reports whether the action kind is configured at all. A
// disabled kind is distinct from an exhausted one: it never comes back
// on rollover.
func (p *Policy) Enabled(action model.Action) bool {
	daily, per15 := p.limitsFor(action)
	return daily > 0 && per15 > 0
}

// Binding names the window kind currently constraining the action,
// for logs and metrics. Daily wins ties.
func (p *Policy) Binding(action model.Action, now time.Time) window.Kind {
	daily, per15 := p.limitsFor(action)
	dailyLeft := daily - p.counts.Count(action, window.At(window.Daily, now))
	per15Left := per15 - p.counts.Count(action, window.At(window.FifteenMinute, now))
	if dailyLeft <= per15Left {
		return window.Daily
	}
	return window.FifteenMinute
}
