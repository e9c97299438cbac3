package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// TokenBytes is the entropy of a session token.
const TokenBytes = 32

// Session lifetimes in days.
const (
	DefaultDays    = 7
	RememberMeDays = 30
)

// Manager creates session records. It is stateless apart from its clock and
// safe for concurrent use.
type Manager struct {
	now  func() time.Time
	rand io.Reader
}

// NewManager returns a Manager using now as its clock. A nil now uses
// time.Now.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{now: now, rand: rand.Reader}
}

// NewToken returns 32 random bytes as 64 lowercase hex characters.
func (m *Manager) NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(m.rand, buf); err != nil {
		return "", fmt.Errorf("session: read token entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ExpiryFor returns now plus days.
func (m *Manager) ExpiryFor(days int) time.Time {
	return m.now().Add(time.Duration(days) * 24 * time.Hour)
}

// IsExpired reports whether the current time is strictly after s.ExpiresAt.
func (m *Manager) IsExpired(s Session) bool {
	return m.now().After(s.ExpiresAt)
}

// New builds an active session with a fresh token expiring after days.
func (m *Manager) New(userID, ip, userAgent string, days int) (Session, error) {
	token, err := m.NewToken()
	if err != nil {
		return Session{}, err
	}
	now := m.now()
	return Session{
		Token:     token,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(days) * 24 * time.Hour),
		Active:    true,
	}, nil
}

// Digest returns the hex SHA-256 of token. Stores key records by digest so
// a leaked store never yields usable tokens.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
