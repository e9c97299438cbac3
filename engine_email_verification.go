package stackauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/stackauth/jwt"
)

const (
	msgEmailVerified        = "Email verified successfully"
	msgEmailAlreadyVerified = "Email already verified"
	msgVerificationIssued   = "Verification email sent"
)

// VerifyEmail redeems an email-verification token and marks the account
// verified. Redeeming it again for a verified account succeeds.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (res *MessageResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.VerifyEmail")
	defer func() { endSpan(span, err) }()

	claims, err := e.tokens.VerifyPurpose(token, jwt.PurposeEmailVerification)
	if err != nil {
		return nil, e.verifyEmailFailed(ctx, "", unauthorized(msgInvalidToken))
	}

	u, err := e.findUserByID(ctx, claims.Subject, unauthorized(msgAccountInactive))
	if err != nil {
		return nil, e.verifyEmailFailed(ctx, claims.Subject, err)
	}
	if u.Verified {
		return &MessageResult{Message: msgEmailAlreadyVerified}, nil
	}

	if err := e.users.SetVerified(ctx, u.ID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.verifyEmailFailed(ctx, u.ID, unauthorized(msgAccountInactive))
		}
		return nil, e.verifyEmailFailed(ctx, u.ID, internalError(err))
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, true, u.ID, nil, nil)
	return &MessageResult{Message: msgEmailVerified}, nil
}

func (e *Engine) verifyEmailFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, auditEventEmailVerificationConfirm, false, userID, err, nil)
	return err
}

// RequestEmailVerification issues a fresh email-verification token for an
// unverified account. Requests are limited per account.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) (res *MessageResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.RequestEmailVerification")
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return nil, unauthorized(msgAuthRequired)
	}
	if err := e.checkLimit(ctx, e.config.RateLimit.VerificationRequest, "verification", userID); err != nil {
		return nil, err
	}

	u, err := e.findUserByID(ctx, userID, newError(KindNotFound, msgUserNotFound, nil))
	if err != nil {
		return nil, err
	}
	if u.Verified {
		return &MessageResult{Message: msgEmailAlreadyVerified}, nil
	}

	token, err := e.tokens.IssuePurpose(u.ID, jwt.PurposeEmailVerification)
	if err != nil {
		return nil, internalError(err)
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, u.ID, nil, nil)
	return &MessageResult{Message: msgVerificationIssued, Token: token}, nil
}
