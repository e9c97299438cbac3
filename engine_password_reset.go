package stackauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/stackauth/jwt"
)

const (
	msgResetRequested = "If an account with that email exists, a password reset link has been sent"
	msgPasswordReset  = "Password reset successfully"
)

// RequestPasswordReset issues a password-reset token when email belongs to
// an active account. The response is identical either way; the token, when
// one was issued, is carried in MessageResult.Token for out-of-band
// delivery.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (res *MessageResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.RequestPasswordReset")
	defer func() { endSpan(span, err) }()

	if err := e.checkLimit(ctx, e.config.RateLimit.PasswordReset, "reset", ClientIPFromContext(ctx)); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, validationError("email is required", nil)
	}

	e.metricInc(MetricPasswordResetRequest)

	u, err := e.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", nil, nil)
			return &MessageResult{Message: msgResetRequested}, nil
		}
		return nil, internalError(err)
	}
	if !u.Active {
		e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", nil, nil)
		return &MessageResult{Message: msgResetRequested}, nil
	}

	token, err := e.tokens.IssuePurpose(u.ID, jwt.PurposePasswordReset)
	if err != nil {
		return nil, internalError(err)
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, u.ID, nil, nil)
	return &MessageResult{Message: msgResetRequested, Token: token}, nil
}

// ResetPassword redeems a password-reset token, replaces the password and
// ends every session of the account.
//
// The token stays valid until it expires; there is no revocation list.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) (res *MessageResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.ResetPassword")
	defer func() { endSpan(span, err) }()

	claims, err := e.tokens.VerifyPurpose(token, jwt.PurposePasswordReset)
	if err != nil {
		return nil, e.resetFailed(ctx, "", unauthorized(msgInvalidToken))
	}
	if err := e.checkStrength(newPassword); err != nil {
		return nil, e.resetFailed(ctx, claims.Subject, err)
	}

	u, err := e.findUserByID(ctx, claims.Subject, unauthorized(msgAccountInactive))
	if err != nil {
		return nil, e.resetFailed(ctx, claims.Subject, err)
	}

	if err := e.replacePassword(ctx, u.ID, newPassword); err != nil {
		return nil, e.resetFailed(ctx, u.ID, err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, u.ID, nil, nil)
	return &MessageResult{Message: msgPasswordReset}, nil
}

func (e *Engine) resetFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, err, nil)
	return err
}

// replacePassword stores a new hash for userID and ends all of its sessions.
func (e *Engine) replacePassword(ctx context.Context, userID, pw string) error {
	hash, err := e.hashPassword(pw)
	if err != nil {
		return err
	}
	if err := e.users.SetPasswordHash(ctx, userID, hash); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return unauthorized(msgAccountInactive)
		}
		return internalError(err)
	}
	return e.invalidateSessions(ctx, userID)
}
