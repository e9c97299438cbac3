package stackauth

import (
	"context"
)

const msgPasswordChanged = "Password changed successfully"

// ChangePassword replaces the caller's password after checking the current
// one, then ends every session of the account. Attempts share the login
// budget, keyed by account.
func (e *Engine) ChangePassword(ctx context.Context, caller Identity, oldPassword, newPassword string) (res *MessageResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.ChangePassword")
	defer func() { endSpan(span, err) }()

	if caller.ID == "" {
		return nil, unauthorized(msgAuthRequired)
	}
	if err := e.checkLimit(ctx, e.config.RateLimit.Login, "password-change", caller.ID); err != nil {
		return nil, err
	}
	if oldPassword == "" || newPassword == "" {
		return nil, e.changeFailed(ctx, caller.ID, validationError("current and new password are required", nil))
	}

	u, err := e.findUserByID(ctx, caller.ID, unauthorized(msgAccountInactive))
	if err != nil {
		return nil, e.changeFailed(ctx, caller.ID, err)
	}

	ok, err := e.hasher.Verify(oldPassword, u.PasswordHash)
	if err != nil {
		return nil, e.changeFailed(ctx, u.ID, internalError(err))
	}
	if !ok {
		return nil, e.changeFailed(ctx, u.ID, unauthorized(msgIncorrectPassword))
	}

	if err := e.checkStrength(newPassword); err != nil {
		return nil, e.changeFailed(ctx, u.ID, err)
	}
	if reused, _ := e.hasher.Verify(newPassword, u.PasswordHash); reused {
		return nil, e.changeFailed(ctx, u.ID, validationError("new password must differ from the current password", nil))
	}

	if err := e.replacePassword(ctx, u.ID, newPassword); err != nil {
		return nil, e.changeFailed(ctx, u.ID, err)
	}

	e.resetLimit(ctx, "password-change", u.ID)
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, u.ID, nil, nil)
	return &MessageResult{Message: msgPasswordChanged}, nil
}

func (e *Engine) changeFailed(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricPasswordChangeFailure)
	e.emitAudit(ctx, auditEventPasswordChangeFailure, false, userID, err, nil)
	return err
}
