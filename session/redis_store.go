package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldUser      = "uid"
	fieldIP        = "ip"
	fieldUserAgent = "ua"
	fieldCreated   = "created"
	fieldExpires   = "expires"
	fieldActive    = "active"
)

// invalidateScript flips the active flag only when the record still exists,
// so an expired key is never resurrected without a TTL, and drops the
// digest from the owner's index. ARGV[3], when set, names the owner of a
// record that may already have lapsed so its stale index entry goes too.
const invalidateScript = `
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  if ARGV[3] and ARGV[3] ~= "" then
    redis.call("SREM", ARGV[1] .. ARGV[3], ARGV[2])
  end
  return 0
end
redis.call("HSET", KEYS[1], "active", "0")
redis.call("SREM", ARGV[1] .. uid, ARGV[2])
return 1
`

var invalidateLua = redis.NewScript(invalidateScript)

// RedisStore keeps one hash per session keyed by token digest plus a set of
// digests per user. Keys expire with the session.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store namespaced under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "sess"
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

// WithClock overrides the clock used for expiry checks and TTLs.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) key(digest string) string {
	return s.prefix + ":s:" + digest
}

func (s *RedisStore) userPrefix() string {
	return s.prefix + ":u:"
}

func (s *RedisStore) userKey(userID string) string {
	return s.userPrefix() + userID
}

// Create writes the record and indexes it under its owner.
//
//	Performance: 1 MULTI/EXEC with 3-4 commands.
func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	if sess.Token == "" || sess.UserID == "" {
		return errors.New("session: token and user id are required")
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	digest := Digest(sess.Token)
	sessionKey := s.key(digest)
	userKey := s.userKey(sess.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey, map[string]any{
			fieldUser:      sess.UserID,
			fieldIP:        sess.IP,
			fieldUserAgent: sess.UserAgent,
			fieldCreated:   sess.CreatedAt.UnixMilli(),
			fieldExpires:   sess.ExpiresAt.UnixMilli(),
			fieldActive:    boolField(sess.Active),
		})
		pipe.PExpire(ctx, sessionKey, ttl)
		if sess.Active {
			pipe.SAdd(ctx, userKey, digest)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// FindActiveByToken returns the session for token, or ErrNotFound when it is
// missing, inactive or past its expiry.
//
//	Performance: 1 Redis HGETALL.
func (s *RedisStore) FindActiveByToken(ctx context.Context, token string) (Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(Digest(token))).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return Session{}, ErrNotFound
	}

	sess, err := decodeFields(fields)
	if err != nil {
		return Session{}, err
	}
	if !sess.Active || s.now().After(sess.ExpiresAt) {
		return Session{}, ErrNotFound
	}
	sess.Token = token
	return sess, nil
}

// Invalidate marks the session inactive. Unknown or already invalidated
// tokens are a no-op.
func (s *RedisStore) Invalidate(ctx context.Context, token string) error {
	digest := Digest(token)
	err := invalidateLua.Run(ctx, s.redis, []string{s.key(digest)}, s.userPrefix(), digest).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// InvalidateAllForUser marks every indexed session of userID inactive.
//
// The index is read before the invalidation pipeline runs, so a session
// created concurrently with this call may survive it. Only digests that were
// handled leave the index, so the next call still reaches such a session.
func (s *RedisStore) InvalidateAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	digests, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(digests) == 0 {
		return nil
	}

	// Load once so the pipelined EVALSHA calls hit the script cache.
	if err := invalidateLua.Load(ctx, s.redis).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, digest := range digests {
			invalidateLua.EvalSha(ctx, pipe, []string{s.key(digest)}, s.userPrefix(), digest, userID)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveCount returns the number of indexed sessions for userID. Records
// whose key has lapsed are still counted until the next
// InvalidateAllForUser prunes them.
func (s *RedisStore) ActiveCount(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

func decodeFields(fields map[string]string) (Session, error) {
	created, err := strconv.ParseInt(fields[fieldCreated], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session: corrupt created field: %w", err)
	}
	expires, err := strconv.ParseInt(fields[fieldExpires], 10, 64)
	if err != nil {
		return Session{}, fmt.Errorf("session: corrupt expires field: %w", err)
	}
	return Session{
		UserID:    fields[fieldUser],
		IP:        fields[fieldIP],
		UserAgent: fields[fieldUserAgent],
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
		Active:    fields[fieldActive] == "1",
	}, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
