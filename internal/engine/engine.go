package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"warble/internal/config"
	"warble/internal/logging"
	"warble/internal/metrics"
	"warble/internal/model"
	"warble/internal/policy"
	"warble/internal/retry"
	"warble/internal/state"
	"warble/internal/suggest"
	"warble/internal/targets"
	"warble/internal/window"
	"warble/internal/xclient"
)

// ErrSaveFailed marks a state save that kept failing after retries.
// The loop must stop rather than keep acting without durable
// accounting.
var ErrSaveFailed = errors.New("state save failed")

// Expired counters older than this many window lengths are dropped at
// each cycle start.
const pruneGrace = 2

// Engine drives the engagement loop: each tick it refreshes the
// cycle, reads the remaining budget, walks eligible targets in
// configuration order, and commits every performed action to durable
// state before moving on.
type Engine struct {
	client   xclient.XClient
	drafter  suggest.Drafter
	store    *state.Store
	policy   *policy.Policy
	selector *targets.Selector

	tickInterval time.Duration
	fetchCount   int
	delayMin     time.Duration
	delayMax     time.Duration
	callTimeout  time.Duration
	saveRetries  int
	saveBackoff  time.Duration

	// pausedUntil holds per-action backoff deadlines imposed by the
	// platform (429 responses), on top of the quota policy's own
	// accounting.
	pausedUntil map[model.Action]time.Time

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
	rng     *rand.Rand
}

func New(cfg config.Config, client xclient.XClient, drafter suggest.Drafter, store *state.Store, pol *policy.Policy, sel *targets.Selector) *Engine {
	return &Engine{
		client:       client,
		drafter:      drafter,
		store:        store,
		policy:       pol,
		selector:     sel,
		tickInterval: time.Duration(cfg.Engagement.TickInterval),
		fetchCount:   cfg.Engagement.TweetsPerUserPerCycle,
		delayMin:     time.Duration(cfg.Engagement.ActionDelayMin),
		delayMax:     time.Duration(cfg.Engagement.ActionDelayMax),
		callTimeout:  30 * time.Second,
		saveRetries:  3,
		saveBackoff:  500 * time.Millisecond,
		pausedUntil:  map[model.Action]time.Time{},
		nowFn:        time.Now,
		sleepFn:      sleepCtx,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes ticks until ctx is cancelled, sleeping between them.
// The sleep is bounded by the next 15-minute rollover so a spent
// window is re-evaluated the moment it reopens. State is saved on
// every exit path.
func (e *Engine) Run(ctx context.Context) error {
	logging.Logger.Infow("scheduler started", "tickInterval", e.tickInterval)
	for {
		if err := e.Tick(ctx); err != nil {
			if errors.Is(err, ErrSaveFailed) {
				e.finalSave()
				return err
			}
			if ctx.Err() != nil {
				break
			}
			logging.Logger.Errorw("tick failed", "error", err)
		}
		now := e.nowFn().UTC()
		d := e.tickInterval
		if until := window.UntilRollover(window.FifteenMinute, now); until < d {
			d = until
		}
		if err := e.sleepFn(ctx, d); err != nil {
			break
		}
	}
	e.finalSave()
	return ctx.Err()
}

// Tick runs one scheduling pass. Per-target failures are logged and
// isolated; only persistence failures and cancellation abort the
// pass.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	metrics.Ticks.Inc()
	defer metrics.ObserveTickDuration(start)

	now := e.nowFn().UTC()
	if started, id := e.selector.MaybeStartCycle(now); started {
		pruned := e.store.PruneExpired(now, pruneGrace)
		logging.Logger.Infow("cycle started", "cycle", id, "prunedCounters", pruned)
	}

	for _, a := range model.Actions() {
		left := e.policy.Remaining(a, now)
		metrics.SetRemaining(a.String(), left)
		if left == 0 && e.policy.Enabled(a) {
			metrics.IncQuotaExhausted(a.String(), e.policy.Binding(a, now).String())
		}
	}

	for _, pick := range e.selector.Select() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.anyAllowed(e.nowFn().UTC()) {
			break
		}
		if err := e.engageTarget(ctx, pick); err != nil {
			if errors.Is(err, ErrSaveFailed) || ctx.Err() != nil {
				return err
			}
			logging.Logger.Warnw("target engagement failed", "handle", pick.Handle, "error", err)
		}
	}
	return nil
}

// engageTarget fetches one target's recent posts and engages the
// fresh ones within the pick's cycle allowance.
//
// Timelines arrive newest first; the walk goes oldest first so the
// last-seen marker only ever covers posts that were fully handled.
// Posts held back by quota stay ahead of the marker and come around
// again on a later tick.
func (e *Engine) engageTarget(ctx context.Context, pick targets.Pick) error {
	tctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	posts, err := e.client.UserTimeline(tctx, pick.Handle, e.fetchCount)
	cancel()
	if err != nil {
		return errors.WithMessagef(err, "timeline %s", pick.Handle)
	}

	ts, _ := e.store.Target(pick.Handle)
	lastSeen := ts.LastSeenPostID
	budget := pick.Allowed
	dirty := false

	for i := len(posts) - 1; i >= 0; i-- {
		post := posts[i]
		if !post.NewerThan(lastSeen) {
			continue
		}
		if post.IsRepost {
			e.store.SetLastSeen(pick.Handle, post.ID)
			dirty = true
			continue
		}
		if budget <= 0 {
			break
		}
		now := e.nowFn().UTC()
		wantLike := e.allowed(model.ActionLike, now)
		wantReply := e.allowed(model.ActionReply, now)
		if !wantLike && !wantReply {
			break
		}

		// The marker is pinned by the first success on a post. A crash
		// after that save skips the post's remaining actions instead of
		// risking a duplicate.
		seen := false
		markSeen := func() {
			if !seen {
				e.store.SetLastSeen(pick.Handle, post.ID)
				seen = true
				dirty = true
			}
		}

		if wantLike {
			lctx, lcancel := context.WithTimeout(ctx, e.callTimeout)
			lerr := e.client.LikePost(lctx, post.ID)
			lcancel()
			if lerr == nil {
				markSeen()
				budget--
				if err := e.commit(ctx, model.ActionLike, pick.Handle); err != nil {
					return err
				}
				dirty = false
				logging.Logger.Infow("liked post", "handle", pick.Handle, "post", post.ID)
				if err := e.actionDelay(ctx); err != nil {
					return err
				}
			} else if rl, ok := xclient.IsRateLimited(lerr); ok {
				e.pause(model.ActionLike, rl)
				metrics.IncAction(model.ActionLike.String(), "rate_limited")
			} else if transientErr(lerr) {
				metrics.IncAction(model.ActionLike.String(), "transient_error")
				return errors.WithMessagef(lerr, "like %s", post.ID)
			} else {
				// Not retriable: deleted post, already liked. Consume
				// the like and let the reply still happen.
				metrics.IncAction(model.ActionLike.String(), "error")
				markSeen()
				logging.Logger.Warnw("like rejected", "handle", pick.Handle, "post", post.ID, "error", lerr)
			}
		}

		if budget > 0 && wantReply && e.allowed(model.ActionReply, e.nowFn().UTC()) {
			dctx, dcancel := context.WithTimeout(ctx, e.callTimeout)
			text, derr := e.drafter.Draft(dctx, post.Text)
			dcancel()
			if derr != nil {
				metrics.DraftFailures.Inc()
				logging.Logger.Warnw("draft failed", "handle", pick.Handle, "post", post.ID, "error", derr)
				continue
			}
			rctx, rcancel := context.WithTimeout(ctx, e.callTimeout)
			_, rerr := e.client.PostReply(rctx, post.ID, post.Author, text)
			rcancel()
			if rerr == nil {
				markSeen()
				budget--
				if err := e.commit(ctx, model.ActionReply, pick.Handle); err != nil {
					return err
				}
				dirty = false
				logging.Logger.Infow("replied to post", "handle", pick.Handle, "post", post.ID, "reply", text)
				if err := e.actionDelay(ctx); err != nil {
					return err
				}
			} else if rl, ok := xclient.IsRateLimited(rerr); ok {
				e.pause(model.ActionReply, rl)
				metrics.IncAction(model.ActionReply.String(), "rate_limited")
			} else if transientErr(rerr) {
				metrics.IncAction(model.ActionReply.String(), "transient_error")
				return errors.WithMessagef(rerr, "reply %s", post.ID)
			} else {
				metrics.IncAction(model.ActionReply.String(), "error")
				markSeen()
				logging.Logger.Warnw("reply rejected", "handle", pick.Handle, "post", post.ID, "error", rerr)
			}
		}
	}

	if dirty {
		return e.saveState(ctx)
	}
	return nil
}

// commit records one successful action: both quota windows, the
// target's cycle allowance, and a durable save before anything else
// happens.
func (e *Engine) commit(ctx context.Context, a model.Action, handle string) error {
	now := e.nowFn().UTC()
	e.store.Increment(a, window.At(window.FifteenMinute, now), 1)
	e.store.Increment(a, window.At(window.Daily, now), 1)
	e.selector.RecordAction(handle)
	metrics.IncAction(a.String(), "ok")
	return e.saveState(ctx)
}

func (e *Engine) saveState(ctx context.Context) error {
	err := retry.WithExponentialBackoff(ctx, "save state", e.saveRetries, e.saveBackoff, func() error {
		return e.store.Save(ctx)
	})
	if err != nil {
		metrics.SaveFailures.Inc()
		return errors.WithMessagef(ErrSaveFailed, "%v", err)
	}
	return nil
}

func (e *Engine) finalSave() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.Save(ctx); err != nil {
		logging.Logger.Errorw("final state save failed", "error", err)
		return
	}
	logging.Logger.Infow("state saved on shutdown")
}

// allowed combines the quota policy with any platform-imposed pause.
func (e *Engine) allowed(a model.Action, now time.Time) bool {
	if until, ok := e.pausedUntil[a]; ok && now.Before(until) {
		return false
	}
	return e.policy.CanAct(a, now)
}

func (e *Engine) anyAllowed(now time.Time) bool {
	for _, a := range model.Actions() {
		if e.allowed(a, now) {
			return true
		}
	}
	return false
}

// pause honors a 429 from the platform: the action kind stays off
// until the later of the current 15-minute rollover and the reset
// time the platform announced.
func (e *Engine) pause(a model.Action, rl *xclient.RateLimitError) {
	now := e.nowFn().UTC()
	until := window.At(window.FifteenMinute, now).End
	if rl.ResetAt.After(until) {
		until = rl.ResetAt
	}
	e.pausedUntil[a] = until
	metrics.IncRateLimited(a.String())
	logging.Logger.Warnw("rate limited by platform", "action", a, "until", until)
}

// actionDelay sleeps a random interval inside [delayMin, delayMax] to
// space actions out.
func (e *Engine) actionDelay(ctx context.Context) error {
	if e.delayMax <= 0 {
		return nil
	}
	d := e.delayMin
	if spread := e.delayMax - e.delayMin; spread > 0 {
		d += time.Duration(e.rng.Int63n(int64(spread)))
	}
	return e.sleepFn(ctx, d)
}

func transientErr(err error) bool {
	return errors.Is(err, xclient.ErrTransient) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
