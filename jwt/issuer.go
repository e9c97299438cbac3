package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum HS256 secret size in bytes.
const MinSecretLength = 32

// Default lifetimes.
const (
	DefaultAccessTTL       = 7 * 24 * time.Hour
	DefaultRefreshTTL      = 30 * 24 * time.Hour
	DefaultVerificationTTL = 24 * time.Hour
	DefaultResetTTL        = time.Hour
)

var (
	// ErrTokenExpired means the signature was valid but the token is past
	// its expiry (plus leeway).
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid covers bad signatures, unexpected algorithms, issuer
	// or audience mismatches and wrong token kinds.
	ErrTokenInvalid = errors.New("jwt: token invalid")
	// ErrTokenMalformed means the input is not a decodable JWT.
	ErrTokenMalformed = errors.New("jwt: token malformed")
	// ErrPurposeMismatch means a valid purpose token was presented for a
	// different purpose.
	ErrPurposeMismatch = errors.New("jwt: purpose mismatch")
	// ErrUnknownPurpose is returned by IssuePurpose for purposes without a
	// configured lifetime.
	ErrUnknownPurpose = errors.New("jwt: unknown purpose")
	// ErrWeakSecret is returned by NewIssuer when the secret is shorter than
	// MinSecretLength.
	ErrWeakSecret = errors.New("jwt: secret must be at least 32 bytes")
)

// Kind distinguishes the token families sharing one signing secret.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindPurpose Kind = "purpose"
)

// Purpose scopes a single-use style token to one account action.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email-verification"
	PurposePasswordReset     Purpose = "password-reset"
)

// Config configures an Issuer. Secret is required; zero TTLs fall back to
// the package defaults.
type Config struct {
	Secret          []byte
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	Issuer          string
	Audience        string
	Leeway          time.Duration
	Now             func() time.Time
}

// Subject is the identity embedded in an access token.
type Subject struct {
	ID    string
	Email string
	Role  string
}

// Claims is the decoded payload shared by every token kind. Email and Role
// are only set on access tokens, Purpose only on purpose tokens.
type Claims struct {
	Kind    Kind    `json:"typ"`
	Email   string  `json:"email,omitempty"`
	Role    string  `json:"role,omitempty"`
	Purpose Purpose `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens. It holds no mutable state and is
// safe for concurrent use.
type Issuer struct {
	secret   []byte
	cfg      Config
	now      func() time.Time
	ttls     map[Purpose]time.Duration
	parser   *jwt.Parser
	unparsed *jwt.Parser
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0, 2m]")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.VerificationTTL == 0 {
		cfg.VerificationTTL = DefaultVerificationTTL
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 || cfg.VerificationTTL < 0 || cfg.ResetTTL < 0 {
		return nil, errors.New("jwt: token lifetimes must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	return &Issuer{
		secret: secret,
		cfg:    cfg,
		now:    now,
		ttls: map[Purpose]time.Duration{
			PurposeEmailVerification: cfg.VerificationTTL,
			PurposePasswordReset:     cfg.ResetTTL,
		},
		parser:   jwt.NewParser(options...),
		unparsed: jwt.NewParser(),
	}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.cfg.AccessTTL }

// IssueAccess signs a short-lived token carrying the subject's id, email and
// role.
func (i *Issuer) IssueAccess(sub Subject) (string, error) {
	return i.sign(Claims{
		Kind:  KindAccess,
		Email: sub.Email,
		Role:  sub.Role,
	}, sub.ID, i.cfg.AccessTTL)
}

// IssueRefresh signs a long-lived token carrying only the subject id.
func (i *Issuer) IssueRefresh(userID string) (string, error) {
	return i.sign(Claims{Kind: KindRefresh}, userID, i.cfg.RefreshTTL)
}

// IssuePurpose signs a token bound to purpose, with the lifetime configured
// for that purpose.
func (i *Issuer) IssuePurpose(userID string, purpose Purpose) (string, error) {
	ttl, ok := i.ttls[purpose]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	return i.sign(Claims{Kind: KindPurpose, Purpose: purpose}, userID, ttl)
}

func (i *Issuer) sign(claims Claims, subject string, ttl time.Duration) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    i.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if i.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry, in that
// order, and returns the decoded claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := i.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyAccess verifies token and requires it to be an access token.
func (i *Issuer) VerifyAccess(token string) (*Claims, error) {
	return i.verifyKind(token, KindAccess)
}

// VerifyRefresh verifies token and requires it to be a refresh token.
func (i *Issuer) VerifyRefresh(token string) (*Claims, error) {
	return i.verifyKind(token, KindRefresh)
}

// VerifyPurpose verifies token and requires it to be a purpose token for
// expected. The purpose claim is only read after the signature checks out.
func (i *Issuer) VerifyPurpose(token string, expected Purpose) (*Claims, error) {
	claims, err := i.verifyKind(token, KindPurpose)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != expected {
		return nil, ErrPurposeMismatch
	}
	return claims, nil
}

func (i *Issuer) verifyKind(token string, kind Kind) (*Claims, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ExpiryOf decodes the exp claim without verifying the signature. The
// result is informational and must not drive an authorization decision.
func (i *Issuer) ExpiryOf(token string) (time.Time, error) {
	claims := &Claims{}
	if _, _, err := i.unparsed.ParseUnverified(token, claims); err != nil {
		return time.Time{}, ErrTokenMalformed
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrTokenMalformed
	}
	return claims.ExpiresAt.Time, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}
