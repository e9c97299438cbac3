package stackauth

import (
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/stackauth/internal/audit"
	"github.com/MrEthical07/stackauth/jwt"
	"github.com/MrEthical07/stackauth/password"
	"github.com/MrEthical07/stackauth/ratelimit"
	"github.com/MrEthical07/stackauth/session"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/stackauth"

// Builder assembles an Engine. Configure it once during start-up and call
// Build; a Builder cannot be reused.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users    UserDirectory
	sessions SessionStore
	limiter  ratelimit.Limiter
	policy   *password.Policy

	auditSink      AuditSink
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The builder keeps a copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecret sets the HMAC signing secret.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.JWT.Secret = cloneBytes(secret)
	return b
}

// WithRedis backs sessions and rate limits with client unless explicit
// stores were supplied.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserDirectory sets the account store. Required.
func (b *Builder) WithUserDirectory(users UserDirectory) *Builder {
	b.users = users
	return b
}

// WithSessionStore sets the session store, taking precedence over WithRedis.
func (b *Builder) WithSessionStore(store SessionStore) *Builder {
	b.sessions = store
	return b
}

// WithLimiter sets the attempt limiter, taking precedence over WithRedis.
// Without either, a process-local ratelimit.Memory is used.
func (b *Builder) WithLimiter(l ratelimit.Limiter) *Builder {
	b.limiter = l
	return b
}

// WithPasswordPolicy overrides password.DefaultPolicy.
func (b *Builder) WithPasswordPolicy(p password.Policy) *Builder {
	b.policy = &p
	return b
}

// WithAuditSink sets where audit events go. Audit must also be enabled in
// the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for swallowed background failures.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider sets the span source. The global provider is used
// otherwise.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithClock overrides time.Now for every component the builder creates.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the identity resolution histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user directory required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	// -------- SESSION STORE --------
	sessions := b.sessions
	if sessions == nil {
		if b.redis == nil {
			return nil, errors.New("session store or redis client required")
		}
		sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix).WithClock(now)
	}

	// -------- RATE LIMITER --------
	limiter := b.limiter
	if limiter == nil {
		if b.redis != nil {
			limiter = ratelimit.NewRedis(b.redis, cfg.RateLimit.RedisPrefix)
		} else {
			limiter = ratelimit.NewMemory(now)
		}
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(cfg.Password.hasher())
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash("stackauth-dummy-password")
	if err != nil {
		return nil, err
	}
	policy := password.DefaultPolicy()
	if b.policy != nil {
		policy = *b.policy
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewIssuer(jwt.Config{
		Secret:          cloneBytes(cfg.JWT.Secret),
		AccessTTL:       cfg.JWT.AccessTTL,
		RefreshTTL:      cfg.JWT.RefreshTTL,
		VerificationTTL: cfg.JWT.VerificationTTL,
		ResetTTL:        cfg.JWT.ResetTTL,
		Issuer:          cfg.JWT.Issuer,
		Audience:        cfg.JWT.Audience,
		Leeway:          cfg.JWT.Leeway,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	for _, w := range cfg.Lint().BySeverity(LintWarn) {
		logger.Warn("risky configuration", zap.String("code", w.Code), zap.String("severity", w.Severity.String()), zap.String("detail", w.Message))
	}

	b.built = true

	return &Engine{
		config:     cfg,
		users:      b.users,
		sessions:   sessions,
		limiter:    limiter,
		hasher:     hasher,
		policy:     policy,
		tokens:     tokens,
		sessionMgr: session.NewManager(now),
		audit:      internalaudit.NewDispatcher(cfg.Audit, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		tracer:     tp.Tracer(tracerName),
		now:        now,
		dummyHash:  dummyHash,
	}, nil
}
