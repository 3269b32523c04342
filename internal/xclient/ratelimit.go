package xclient

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"warble/internal/logging"
)

// Client-side pacing sits well under the platform's documented window
// caps so the internal quota accounting, not raw throughput, is what
// binds.
const (
	defaultRPS   = 1.0
	defaultBurst = 3
)

// newLimiter creates the request pacer, with env overrides for tuning
// in the field.
func newLimiter() *rate.Limiter {
	rps := defaultRPS
	burst := defaultBurst
	if v := os.Getenv("X_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("X_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// newBreaker builds the circuit breaker shielding the platform API.
// Rate-limit responses do not count as failures: being told to slow
// down is the quota system working, not the upstream being broken.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, limited := IsRateLimited(err)
			return limited
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Warnw("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// breakerErr translates gobreaker's open/half-open rejections into
// transient failures.
func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.WithMessage(ErrTransient, "circuit breaker open")
	}
	return err
}
