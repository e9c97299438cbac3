package stackauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/stackauth/internal/audit"
	"github.com/MrEthical07/stackauth/jwt"
	"github.com/MrEthical07/stackauth/password"
	"github.com/MrEthical07/stackauth/ratelimit"
	"github.com/MrEthical07/stackauth/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine orchestrates the account lifecycle: registration, login, logout,
// token refresh, email verification and password reset. Build one with
// New().…Build(); it is safe for concurrent use.
type Engine struct {
	config     Config
	users      UserDirectory
	sessions   SessionStore
	limiter    ratelimit.Limiter
	hasher     *password.Argon2
	policy     password.Policy
	tokens     *jwt.Issuer
	sessionMgr *session.Manager
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	// dummyHash is verified against when the email is unknown so the
	// response time does not reveal whether an account exists.
	dummyHash string

	bg sync.WaitGroup
}

// Close waits for background last-active writes and flushes the audit
// dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.bg.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Config returns a copy of the engine configuration with the secret removed.
func (e *Engine) Config() Config {
	cfg := cloneConfig(e.config)
	cfg.JWT.Secret = nil
	return cfg
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ip := ClientIPFromContext(ctx); ip != "" {
		attrs = append(attrs, attribute.String("client.address", ip))
	}
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
	}
	span.End()
}

// checkLimit records one attempt against key under p. An exhausted budget
// returns a rate-limited error; a backend failure returns an internal one.
func (e *Engine) checkLimit(ctx context.Context, p ratelimit.Policy, scope, key string) error {
	allowed, err := p.Allow(ctx, e.limiter, scope+":"+key)
	if err != nil {
		e.logger.Error("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
		return internalError(err)
	}
	if !allowed {
		e.metricInc(MetricRateLimitHit)
		e.emitRateLimit(ctx, scope)
		return rateLimited()
	}
	return nil
}

func (e *Engine) resetLimit(ctx context.Context, scope, key string) {
	if err := e.limiter.Reset(ctx, scope+":"+key); err != nil {
		e.logger.Warn("rate limiter reset failed", zap.String("scope", scope), zap.Error(err))
	}
}

// issueTokens signs an access and a refresh token for u.
func (e *Engine) issueTokens(u User) (access, refresh string, err error) {
	access, err = e.tokens.IssueAccess(subjectOf(u))
	if err != nil {
		return "", "", internalError(err)
	}
	refresh, err = e.tokens.IssueRefresh(u.ID)
	if err != nil {
		return "", "", internalError(err)
	}
	return access, refresh, nil
}

// openSession creates and persists a session for userID lasting days.
func (e *Engine) openSession(ctx context.Context, userID string, days int) (Session, error) {
	sess, err := e.sessionMgr.New(userID, ClientIPFromContext(ctx), userAgentFromContext(ctx), days)
	if err != nil {
		return Session{}, internalError(err)
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return Session{}, internalError(err)
	}
	e.metricInc(MetricSessionCreated)
	return sess, nil
}

// authenticate bundles tokens and a fresh session into an AuthResult.
func (e *Engine) authenticate(ctx context.Context, u User, days int, message string) (*AuthResult, error) {
	access, refresh, err := e.issueTokens(u)
	if err != nil {
		return nil, err
	}
	sess, err := e.openSession(ctx, u.ID, days)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Message: message,
		User:    u.Public(),
		Tokens: Tokens{
			AccessToken:  access,
			RefreshToken: refresh,
			SessionToken: sess.Token,
			ExpiresAt:    sess.ExpiresAt,
		},
	}, nil
}

// invalidateSessions ends every session of userID. It is used after a
// credential change, so failure is reported rather than swallowed.
func (e *Engine) invalidateSessions(ctx context.Context, userID string) error {
	if err := e.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		e.emitAudit(ctx, auditEventSessionInvalidationFailed, false, userID, internalError(err), nil)
		return internalError(err)
	}
	e.metricInc(MetricSessionInvalidated)
	return nil
}

// touchLastActive records activity without blocking or failing the request.
func (e *Engine) touchLastActive(ctx context.Context, userID string) {
	at := e.now()
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Account.LastActiveTimeout)
		defer cancel()
		if err := e.users.UpdateLastActive(ctx, userID, at); err != nil {
			e.logger.Warn("update last active failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

// findUserByID translates directory errors. A missing or inactive account
// becomes notFound.
func (e *Engine) findUserByID(ctx context.Context, id string, notFound *Error) (User, error) {
	u, err := e.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, notFound
		}
		return User{}, internalError(err)
	}
	if !u.Active {
		return User{}, notFound
	}
	return u, nil
}

func (e *Engine) hashPassword(pw string) (string, error) {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return "", internalError(err)
	}
	return hash, nil
}

func (e *Engine) checkStrength(pw string) error {
	if res := e.policy.Validate(pw); !res.Valid {
		return validationError(msgWeakPassword, res.Violations)
	}
	return nil
}

func subjectOf(u User) jwt.Subject {
	return jwt.Subject{ID: u.ID, Email: u.Email, Role: string(u.Role)}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
