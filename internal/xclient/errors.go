package xclient

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrTransient marks failures worth retrying on a later tick: network
// errors, 5xx responses, and calls rejected by an open circuit
// breaker. Nothing was recorded against quota for these.
var ErrTransient = errors.New("transient upstream failure")

// RateLimitError is the platform telling us to back off. ResetAt is
// the platform's own signal when it sent one, otherwise zero; the
// scheduler pauses until the later of ResetAt and its own window
// rollover.
type RateLimitError struct {
	Endpoint string
	ResetAt  time.Time
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("rate limited on %s", e.Endpoint)
	}
	return fmt.Sprintf("rate limited on %s until %s", e.Endpoint, e.ResetAt.Format(time.RFC3339))
}

// IsRateLimited extracts a RateLimitError from err's chain.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
