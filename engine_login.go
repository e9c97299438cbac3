package stackauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/stackauth/session"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgLoggedIn     = "Login successful"
	msgLoggedOut    = "Logged out successfully"
	msgLoggedOutAll = "Logged out from all sessions"
)

// Login checks credentials and opens a session lasting 7 days, or 30 with
// RememberMe.
//
// Attempts are limited per email and client IP. Unknown emails and wrong
// passwords produce the same error and take comparable time.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (res *AuthResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.Login", attribute.Bool("remember_me", req.RememberMe))
	defer func() { endSpan(span, err) }()

	email := normalizeEmail(req.Email)
	limitKey := email + "|" + ClientIPFromContext(ctx)
	if err := e.checkLimit(ctx, e.config.RateLimit.Login, "login", limitKey); err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	if email == "" || req.Password == "" {
		return nil, e.loginFailed(ctx, "", validationError("email and password are required", nil))
	}

	u, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, e.loginFailed(ctx, "", internalError(err))
		}
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		return nil, e.loginFailed(ctx, "", unauthorized(msgInvalidCredentials))
	}
	if !u.Active {
		_, _ = e.hasher.Verify(req.Password, e.dummyHash)
		return nil, e.loginFailed(ctx, u.ID, unauthorized(msgInvalidCredentials))
	}

	ok, err := e.hasher.Verify(req.Password, u.PasswordHash)
	if err != nil {
		return nil, e.loginFailed(ctx, u.ID, internalError(err))
	}
	if !ok {
		return nil, e.loginFailed(ctx, u.ID, unauthorized(msgInvalidCredentials))
	}

	days := e.config.Session.DefaultDays
	if req.RememberMe {
		days = e.config.Session.RememberMeDays
	}
	res, err = e.authenticate(ctx, u, days, msgLoggedIn)
	if err != nil {
		return nil, e.loginFailed(ctx, u.ID, err)
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, u, req.Password)
	}
	e.touchLastActive(ctx, u.ID)
	e.resetLimit(ctx, "login", limitKey)

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, u.ID, nil, func() map[string]string {
		if !req.RememberMe {
			return nil
		}
		return map[string]string{"remember_me": "true"}
	})

	return res, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, err, nil)
	return err
}

// upgradeHash re-hashes pw when u's stored hash uses weaker parameters or a
// legacy algorithm. Failure leaves the old hash in place.
func (e *Engine) upgradeHash(ctx context.Context, u User, pw string) {
	needs, err := e.hasher.NeedsUpgrade(u.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	if err := e.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
		e.logger.Warn("password rehash store failed", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, auditEventPasswordRehash, true, u.ID, nil, nil)
}

// Logout ends the caller's session identified by sessionToken, or every
// session of the caller when sessionToken is empty. A token that belongs
// to another user is reported as not found.
func (e *Engine) Logout(ctx context.Context, caller Identity, sessionToken string) (res *MessageResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.Logout", attribute.Bool("all_sessions", sessionToken == ""))
	defer func() { endSpan(span, err) }()

	if caller.ID == "" {
		return nil, unauthorized(msgAuthRequired)
	}

	if sessionToken == "" {
		if err := e.invalidateSessions(ctx, caller.ID); err != nil {
			return nil, err
		}
		e.metricInc(MetricLogoutAll)
		e.emitAudit(ctx, auditEventLogoutAll, true, caller.ID, nil, nil)
		return &MessageResult{Message: msgLoggedOutAll}, nil
	}

	sess, err := e.sessions.FindActiveByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			err = newError(KindNotFound, msgSessionNotFound, nil)
		} else {
			err = internalError(err)
		}
		e.emitAudit(ctx, auditEventLogoutSession, false, caller.ID, err, nil)
		return nil, err
	}
	if sess.UserID != caller.ID {
		err = newError(KindNotFound, msgSessionNotFound, nil)
		e.emitAudit(ctx, auditEventLogoutSession, false, caller.ID, err, nil)
		return nil, err
	}

	if err := e.sessions.Invalidate(ctx, sessionToken); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, newError(KindNotFound, msgSessionNotFound, nil)
		}
		return nil, internalError(err)
	}

	e.metricInc(MetricSessionInvalidated)
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, caller.ID, nil, nil)
	return &MessageResult{Message: msgLoggedOut}, nil
}

// RefreshToken mints a new access token from a refresh token. The refresh
// token itself is not rotated and stays valid until it expires.
func (e *Engine) RefreshToken(ctx context.Context, refreshToken string) (res *RefreshResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.RefreshToken")
	defer func() { endSpan(span, err) }()

	claims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", unauthorized(msgInvalidToken))
	}

	u, err := e.findUserByID(ctx, claims.Subject, unauthorized(msgAccountInactive))
	if err != nil {
		return nil, e.refreshFailed(ctx, claims.Subject, err)
	}

	access, err := e.tokens.IssueAccess(subjectOf(u))
	if err != nil {
		return nil, e.refreshFailed(ctx, u.ID, internalError(err))
	}
	expiresAt, err := e.tokens.ExpiryOf(access)
	if err != nil {
		expiresAt = e.now().Add(e.tokens.AccessTTL())
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, u.ID, nil, nil)
	return &RefreshResult{AccessToken: access, ExpiresAt: expiresAt}, nil
}

func (e *Engine) refreshFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, err, nil)
	return err
}
