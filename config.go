package stackauth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/stackauth/jwt"
	"github.com/MrEthical07/stackauth/password"
	"github.com/MrEthical07/stackauth/ratelimit"
	"github.com/MrEthical07/stackauth/session"
)

// Config is the complete engine configuration. Build it with DefaultConfig,
// override fields, then hand it to Builder.WithConfig. The engine keeps a
// private copy.
type Config struct {
	JWT       JWTConfig       `koanf:"jwt"`
	Session   SessionConfig   `koanf:"session"`
	Password  PasswordConfig  `koanf:"password"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Account   AccountConfig   `koanf:"account"`
	Audit     AuditConfig     `koanf:"audit"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the token issuer. Secret has no default and must be
// supplied from the environment, a file or a flag.
type JWTConfig struct {
	Secret          []byte        `koanf:"-"`
	AccessTTL       time.Duration `koanf:"access_ttl"`
	RefreshTTL      time.Duration `koanf:"refresh_ttl"`
	VerificationTTL time.Duration `koanf:"verification_ttl"`
	ResetTTL        time.Duration `koanf:"reset_ttl"`
	Issuer          string        `koanf:"issuer"`
	Audience        string        `koanf:"audience"`
	Leeway          time.Duration `koanf:"leeway"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig sets session lifetimes in days.
type SessionConfig struct {
	DefaultDays    int    `koanf:"default_days"`
	RememberMeDays int    `koanf:"remember_me_days"`
	RedisPrefix    string `koanf:"redis_prefix"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 `koanf:"memory"` // in KB
	Time           uint32 `koanf:"time"`
	Parallelism    uint8  `koanf:"parallelism"`
	SaltLength     uint32 `koanf:"salt_length"`
	KeyLength      uint32 `koanf:"key_length"`
	UpgradeOnLogin bool   `koanf:"upgrade_on_login"`
}

func (p PasswordConfig) hasher() password.Config {
	return password.Config{
		Memory:      p.Memory,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		SaltLength:  p.SaltLength,
		KeyLength:   p.KeyLength,
	}
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds one budget per throttled operation.
type RateLimitConfig struct {
	Login               ratelimit.Policy `koanf:"login"`
	Register            ratelimit.Policy `koanf:"register"`
	PasswordReset       ratelimit.Policy `koanf:"password_reset"`
	VerificationRequest ratelimit.Policy `koanf:"verification_request"`
	RedisPrefix         string           `koanf:"redis_prefix"`
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig covers account creation and background bookkeeping.
type AccountConfig struct {
	DefaultRole       Role          `koanf:"default_role"`
	LastActiveTimeout time.Duration `koanf:"last_active_timeout"`
}

// DefaultConfig returns production defaults. JWT.Secret is left empty and
// Validate rejects it until one is supplied.
func DefaultConfig() Config {
	hasher := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:       jwt.DefaultAccessTTL,
			RefreshTTL:      jwt.DefaultRefreshTTL,
			VerificationTTL: jwt.DefaultVerificationTTL,
			ResetTTL:        jwt.DefaultResetTTL,
			Issuer:          "stackauth",
			Audience:        "stackauth-api",
		},
		Session: SessionConfig{
			DefaultDays:    session.DefaultDays,
			RememberMeDays: session.RememberMeDays,
			RedisPrefix:    "sess",
		},
		Password: PasswordConfig{
			Memory:         hasher.Memory,
			Time:           hasher.Time,
			Parallelism:    hasher.Parallelism,
			SaltLength:     hasher.SaltLength,
			KeyLength:      hasher.KeyLength,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			Login:               ratelimit.DefaultLogin,
			Register:            ratelimit.DefaultRegister,
			PasswordReset:       ratelimit.DefaultPasswordReset,
			VerificationRequest: ratelimit.DefaultVerificationRequest,
			RedisPrefix:         "rl",
		},
		Account: AccountConfig{
			DefaultRole:       RoleUser,
			LastActiveTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate returns the first hard configuration error, if any.
func (c *Config) Validate() error {
	// JWT
	if len(c.JWT.Secret) < jwt.MinSecretLength {
		return fmt.Errorf("JWT Secret must be at least %d bytes", jwt.MinSecretLength)
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.VerificationTTL <= 0 || c.JWT.ResetTTL <= 0 {
		return errors.New("JWT purpose token TTLs must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Session
	if c.Session.DefaultDays <= 0 || c.Session.RememberMeDays <= 0 {
		return errors.New("Session lifetimes must be > 0 days")
	}
	if c.Session.RememberMeDays < c.Session.DefaultDays {
		return errors.New("Session RememberMeDays must be >= DefaultDays")
	}

	// Password
	if _, err := password.NewArgon2(c.Password.hasher()); err != nil {
		return fmt.Errorf("Password: %w", err)
	}

	// Rate limits
	for name, p := range map[string]ratelimit.Policy{
		"Login":               c.RateLimit.Login,
		"Register":            c.RateLimit.Register,
		"PasswordReset":       c.RateLimit.PasswordReset,
		"VerificationRequest": c.RateLimit.VerificationRequest,
	} {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("RateLimit %s: %w", name, err)
		}
	}

	// Account
	if !c.Account.DefaultRole.Valid() {
		return errors.New("Account DefaultRole must be user, moderator or admin")
	}
	if c.Account.LastActiveTimeout <= 0 {
		return errors.New("Account LastActiveTimeout must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintSeverity ranks advisory configuration findings.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one advisory finding. Unlike Validate errors, warnings
// never stop Build.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintWarnings is the result of Config.Lint, sorted by code.
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns warnings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins every warning at or above min into one error, or returns nil.
func (ws LintWarnings) AsError(min LintSeverity) error {
	hits := ws.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	errs := make([]error, len(hits))
	for i, w := range hits {
		errs[i] = fmt.Errorf("%s [%s]: %s", w.Code, w.Severity, w.Message)
	}
	return errors.Join(errs...)
}

// Lint reports settings that are valid but risky.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway above 1m widens the replay window")
	}
	if c.JWT.AccessTTL > jwt.DefaultAccessTTL {
		add("access_ttl_long", LintWarn, "access tokens cannot be revoked; keep AccessTTL at or below 7 days")
	}
	if c.JWT.RefreshTTL > jwt.DefaultRefreshTTL {
		add("refresh_ttl_long", LintWarn, "refresh tokens are not rotated; keep RefreshTTL at or below 30 days")
	}
	if c.JWT.ResetTTL > 24*time.Hour {
		add("reset_ttl_long", LintHigh, "password reset tokens are replayable until expiry; keep ResetTTL short")
	}
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		add("issuer_audience_unset", LintInfo, "tokens without issuer and audience can be replayed across services sharing a secret")
	}
	if time.Duration(c.Session.RememberMeDays)*24*time.Hour > c.JWT.RefreshTTL {
		add("session_longer_than_refresh", LintInfo, "remember-me sessions outlive refresh tokens")
	}
	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "Argon2 memory below 64 MB")
	}
	if c.RateLimit.Login.Max > 20 {
		add("login_budget_generous", LintHigh, "login budget above 20 attempts per window weakens brute-force protection")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "security events are not recorded")
	}

	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Code < ws[j].Code })
	return ws
}
