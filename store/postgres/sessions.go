package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/MrEthical07/stackauth/session"
)

// SessionStore implements session.Store. Rows are keyed by session.Digest
// of the token and expiry is checked on every read, independent of the
// active flag.
type SessionStore struct {
	pool querier
	now  func() time.Time
}

var _ session.Store = (*SessionStore)(nil)

// NewSessionStore creates a store over pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return newSessionStore(pool)
}

func newSessionStore(pool querier) *SessionStore {
	return &SessionStore{pool: pool, now: time.Now}
}

// WithClock overrides the clock used for expiry checks.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

// Create persists sess.
func (s *SessionStore) Create(ctx context.Context, sess session.Session) error {
	if sess.Token == "" || sess.UserID == "" {
		return errors.New("session: token and user id are required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (token_hash, user_id, ip, user_agent, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		session.Digest(sess.Token),
		sess.UserID,
		sess.IP,
		sess.UserAgent,
		sess.CreatedAt.UTC(),
		sess.ExpiresAt.UTC(),
		sess.Active,
	)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", sess.UserID).
			Wrap(err)
	}
	return nil
}

// FindActiveByToken returns the live session for token or
// session.ErrNotFound.
func (s *SessionStore) FindActiveByToken(ctx context.Context, token string) (session.Session, error) {
	if token == "" {
		return session.Session{}, session.ErrNotFound
	}

	row := s.pool.QueryRow(ctx, `
		SELECT user_id::text, ip, user_agent, created_at, expires_at
		FROM sessions
		WHERE token_hash = $1 AND active AND expires_at > $2
	`, session.Digest(token), s.now().UTC())

	sess := session.Session{Token: token, Active: true}
	err := row.Scan(&sess.UserID, &sess.IP, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, oops.Code("SESSION_NOT_FOUND").Wrap(session.ErrNotFound)
	}
	if err != nil {
		return session.Session{}, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by token").
			Wrap(err)
	}
	return sess, nil
}

// Invalidate deactivates the session for token. Missing sessions are not an
// error.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET active = FALSE
		WHERE token_hash = $1 AND active
	`, session.Digest(token))
	if err != nil {
		return oops.Code("SESSION_INVALIDATE_FAILED").
			With("operation", "invalidate session").
			Wrap(err)
	}
	return nil
}

// InvalidateAllForUser deactivates every session of userID.
func (s *SessionStore) InvalidateAllForUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET active = FALSE
		WHERE user_id = $1 AND active
	`, userID)
	if err != nil {
		return oops.Code("SESSION_INVALIDATE_ALL_FAILED").
			With("operation", "invalidate user sessions").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// PurgeExpired deletes sessions that expired before now and returns how
// many rows were removed.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").
			With("operation", "purge expired sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}
