package stackauth

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/MrEthical07/stackauth/jwt"
	"go.opentelemetry.io/otel/attribute"
)

const msgRegistered = "User registered successfully"

// Register creates an account, signs the caller in and issues a pending
// email-verification token.
//
// Attempts are limited per client IP. The returned VerificationToken is
// not delivered by the engine; the caller sends it out of band.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (res *AuthResult, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.Register")
	defer func() { endSpan(span, err) }()

	ip := ClientIPFromContext(ctx)
	if err := e.checkLimit(ctx, e.config.RateLimit.Register, "register", ip); err != nil {
		e.metricInc(MetricRegisterRejected)
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, e.registerRejected(ctx, validationError("name, email and password are required", nil))
	}
	if !validEmail(email) {
		return nil, e.registerRejected(ctx, validationError("invalid email address", nil))
	}
	if err := e.checkStrength(req.Password); err != nil {
		return nil, e.registerRejected(ctx, err)
	}

	// The pre-check gives a fast answer; the storage uniqueness constraint
	// below is the one that settles concurrent registrations.
	if _, err := e.users.FindByEmail(ctx, email); err == nil {
		return nil, e.registerDuplicate(ctx)
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, e.registerRejected(ctx, internalError(err))
	}

	hash, err := e.hashPassword(req.Password)
	if err != nil {
		return nil, e.registerRejected(ctx, err)
	}

	u, err := e.users.Create(ctx, NewUser{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         e.config.Account.DefaultRole,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, e.registerDuplicate(ctx)
		}
		return nil, e.registerRejected(ctx, internalError(err))
	}
	span.SetAttributes(attribute.String("user.id", u.ID))

	res, err = e.authenticate(ctx, u, e.config.Session.DefaultDays, msgRegistered)
	if err != nil {
		return nil, e.registerRejected(ctx, err)
	}

	verification, err := e.tokens.IssuePurpose(u.ID, jwt.PurposeEmailVerification)
	if err != nil {
		return nil, e.registerRejected(ctx, internalError(err))
	}
	res.VerificationToken = verification

	e.resetLimit(ctx, "register", ip)
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, u.ID, nil, nil)

	return res, nil
}

func (e *Engine) registerRejected(ctx context.Context, err error) error {
	e.metricInc(MetricRegisterRejected)
	e.emitAudit(ctx, auditEventRegisterFailure, false, "", err, nil)
	return err
}

func (e *Engine) registerDuplicate(ctx context.Context) error {
	err := newError(KindConflict, msgEmailTaken, nil)
	e.metricInc(MetricRegisterDuplicate)
	e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", err, nil)
	return err
}

// Profile returns the public projection of an active account.
func (e *Engine) Profile(ctx context.Context, userID string) (PublicUser, error) {
	if userID == "" {
		return PublicUser{}, unauthorized(msgAuthRequired)
	}
	u, err := e.findUserByID(ctx, userID, newError(KindNotFound, msgUserNotFound, nil))
	if err != nil {
		return PublicUser{}, err
	}
	return u.Public(), nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}
