package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRedisUnavailable wraps transport failures from the Redis backend.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned for a non-positive max or a window
	// shorter than MinWindow.
	ErrInvalidPolicy = errors.New("ratelimit: max must be positive and window at least 1ms")
)

// Limiter is a keyed fixed-window attempt counter.
type Limiter interface {
	// Check records an attempt for id and reports whether it is allowed.
	Check(ctx context.Context, id string, max int, window time.Duration) (bool, error)
	// Reset clears the counter for id.
	Reset(ctx context.Context, id string) error
	// Remaining reports attempts left in the current window without
	// recording one. It returns max when no window is open.
	Remaining(ctx context.Context, id string, max int) (int, error)
}

// Policy is a per-operation budget.
type Policy struct {
	Max    int           `koanf:"max"`
	Window time.Duration `koanf:"window"`
}

// MinWindow is the shortest window a backend can represent. Redis expires
// counters with millisecond precision.
const MinWindow = time.Millisecond

// Validate reports ErrInvalidPolicy for a non-positive max or a window
// shorter than MinWindow.
func (p Policy) Validate() error {
	return validate(p.Max, p.Window)
}

func validate(max int, window time.Duration) error {
	if max <= 0 || window < MinWindow {
		return ErrInvalidPolicy
	}
	return nil
}

// Allow is shorthand for l.Check(ctx, id, p.Max, p.Window).
func (p Policy) Allow(ctx context.Context, l Limiter, id string) (bool, error) {
	return l.Check(ctx, id, p.Max, p.Window)
}

// Default budgets per operation.
var (
	DefaultLogin               = Policy{Max: 5, Window: 15 * time.Minute}
	DefaultRegister            = Policy{Max: 3, Window: time.Hour}
	DefaultPasswordReset       = Policy{Max: 3, Window: time.Hour}
	DefaultVerificationRequest = Policy{Max: 3, Window: time.Hour}
)

// Counter is the state of one identifier's window.
type Counter struct {
	Count         int
	WindowResetAt time.Time
}

func remaining(max, count int) int {
	if count >= max {
		return 0
	}
	return max - count
}
