package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no active, unexpired session matches.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps transport failures from RedisStore.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store persists sessions. Implementations must treat expired records as
// absent regardless of their active flag, and Invalidate must be idempotent.
type Store interface {
	Create(ctx context.Context, s Session) error
	FindActiveByToken(ctx context.Context, token string) (Session, error)
	Invalidate(ctx context.Context, token string) error
	InvalidateAllForUser(ctx context.Context, userID string) error
}
