package stackauth

import (
	"context"
	"errors"
)

const (
	auditEventRegisterSuccess           = "register_success"
	auditEventRegisterFailure           = "register_failure"
	auditEventRegisterDuplicate         = "register_duplicate"
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventLogoutSession             = "logout_session"
	auditEventLogoutAll                 = "logout_all"
	auditEventRefreshSuccess            = "refresh_success"
	auditEventRefreshInvalid            = "refresh_invalid"
	auditEventEmailVerificationRequest  = "email_verification_request"
	auditEventEmailVerificationConfirm  = "email_verification_confirm"
	auditEventPasswordResetRequest      = "password_reset_request"
	auditEventPasswordResetConfirm      = "password_reset_confirm"
	auditEventPasswordChangeSuccess     = "password_change_success"
	auditEventPasswordChangeFailure     = "password_change_failure"
	auditEventPasswordRehash            = "password_rehash"
	auditEventRateLimitTriggered        = "rate_limit_triggered"
	auditEventSessionInvalidationFailed = "session_invalidation_failed"
)

// AuditErrorCode is the stable failure code recorded on audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", rateLimited(), func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return auditErrInternal
	}

	switch e.Kind {
	case KindUnauthorized:
		switch e.Message {
		case msgInvalidCredentials, msgIncorrectPassword:
			return auditErrInvalidCredentials
		case msgInvalidToken:
			return auditErrInvalidToken
		case msgAccountInactive:
			return auditErrAccountInactive
		case msgSessionInactive:
			return auditErrSessionNotFound
		}
		return auditErrUnauthorized
	case KindValidation:
		if len(e.Violations) > 0 {
			return auditErrPasswordPolicy
		}
		return auditErrValidation
	case KindConflict:
		return auditErrDuplicate
	case KindRateLimited:
		return auditErrRateLimited
	case KindForbidden:
		return auditErrForbidden
	case KindNotFound:
		if e.Message == msgSessionNotFound {
			return auditErrSessionNotFound
		}
		return auditErrNotFound
	default:
		return auditErrInternal
	}
}
