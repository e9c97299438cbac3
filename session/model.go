package session

import "time"

// Session is a server-side login record. Token is the raw bearer value and
// is only populated on records returned to the caller that created or
// presented it.
type Session struct {
	Token     string
	UserID    string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
	Active    bool
}
