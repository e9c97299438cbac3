package stackauth

import (
	"context"
	"time"

	"github.com/MrEthical07/stackauth/session"
)

// Role is the coarse authorization level carried in access tokens.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Privileged reports whether r bypasses ownership checks.
func (r Role) Privileged() bool {
	return r == RoleModerator || r == RoleAdmin
}

// User is an account as stored by a UserDirectory.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string `json:"-"`
	Role         Role
	Verified     bool
	Active       bool
	Reputation   int
	AvatarURL    string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// PublicUser is the projection of a User that is safe to return to clients.
type PublicUser struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	IsVerified bool      `json:"isVerified"`
	Reputation int       `json:"reputation"`
	Avatar     string    `json:"avatar,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Public returns the client-safe projection of u.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		IsVerified: u.Verified,
		Reputation: u.Reputation,
		Avatar:     u.AvatarURL,
		CreatedAt:  u.CreatedAt,
	}
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	Name       string `json:"name"`
	IsVerified bool   `json:"isVerified"`
}

func identityOf(u User) Identity {
	return Identity{
		ID:         u.ID,
		Email:      u.Email,
		Role:       u.Role,
		Name:       u.Name,
		IsVerified: u.Verified,
	}
}

// NewUser is the profile handed to UserDirectory.Create.
type NewUser struct {
	Email        string
	Name         string
	PasswordHash string
	Role         Role
}

// UserDirectory is the account store consumed by the engine. Find methods
// return only active accounts and ErrUserNotFound otherwise. Create returns
// ErrDuplicateEmail when the uniqueness constraint rejects the email.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, profile NewUser) (User, error)
	UpdateLastActive(ctx context.Context, id string, at time.Time) error
	SetVerified(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id string, hash string) error
}

// SessionStore is the persistent session collaborator.
type SessionStore = session.Store

// Session is a server-side login record.
type Session = session.Session

// RegisterRequest is the input to Engine.Register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the input to Engine.Login. RememberMe extends the session
// from 7 to 30 days.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// Tokens is the bearer material returned after a successful login or
// registration.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// AuthResult is returned by Register and Login.
//
// VerificationToken is set by Register only. It is never serialized; the
// caller is responsible for delivering it out of band.
type AuthResult struct {
	Message           string     `json:"message"`
	User              PublicUser `json:"user"`
	Tokens            Tokens     `json:"tokens"`
	VerificationToken string     `json:"-"`
}

// RefreshResult is returned by RefreshToken.
type RefreshResult struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// MessageResult is returned by operations that only report an outcome.
//
// Token carries a freshly issued purpose token where one was created. It is
// never serialized.
type MessageResult struct {
	Message string `json:"message"`
	Token   string `json:"-"`
}
