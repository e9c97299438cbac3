package stackauth

import (
	"errors"
	"net/http"
)

// Kind classifies every failure that leaves the engine. Clients branch on
// the kind, never on the message text.
type Kind uint8

const (
	// KindInternal covers storage and crypto failures that were translated
	// before leaving the engine.
	KindInternal Kind = iota
	// KindValidation is malformed input: weak password, missing fields.
	KindValidation
	// KindUnauthorized is a missing, invalid or expired credential, or an
	// inactive account.
	KindUnauthorized
	// KindForbidden is an authenticated caller without entitlement.
	KindForbidden
	// KindConflict is a duplicate unique identity.
	KindConflict
	// KindRateLimited is an exhausted attempt budget.
	KindRateLimited
	// KindNotFound is a missing record. Login and reset flows never use it.
	KindNotFound
)

var kindNames = [...]string{
	KindInternal:     "internal",
	KindValidation:   "validation",
	KindUnauthorized: "unauthorized",
	KindForbidden:    "forbidden",
	KindConflict:     "conflict",
	KindRateLimited:  "rate_limited",
	KindNotFound:     "not_found",
}

var kindMessages = [...]string{
	KindInternal:     "internal error",
	KindValidation:   "validation failed",
	KindUnauthorized: "unauthorized",
	KindForbidden:    "forbidden",
	KindConflict:     "conflict",
	KindRateLimited:  "too many attempts, please try again later",
	KindNotFound:     "not found",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "internal"
}

// HTTPStatus maps the kind onto the status code used by HTTP adapters.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the only error type returned by Engine operations.
//
// Message is stable and safe to show to end users. Err keeps the translated
// cause for logging; it is never rendered.
type Error struct {
	Kind       Kind
	Message    string
	Violations []string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if int(e.Kind) < len(kindMessages) {
		return kindMessages[e.Kind]
	}
	return kindMessages[KindInternal]
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports a match against any *Error of the same kind, so the package
// sentinels work with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

var (
	// ErrInternal matches every KindInternal error.
	ErrInternal = &Error{Kind: KindInternal}
	// ErrValidation matches every KindValidation error.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrUnauthorized matches every KindUnauthorized error.
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	// ErrForbidden matches every KindForbidden error.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrConflict matches every KindConflict error.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrRateLimited matches every KindRateLimited error.
	ErrRateLimited = &Error{Kind: KindRateLimited}
	// ErrNotFound matches every KindNotFound error.
	ErrNotFound = &Error{Kind: KindNotFound}
)

// Collaborator sentinels. UserDirectory implementations return these so the
// engine can translate them.
var (
	// ErrUserNotFound is returned by a UserDirectory when no active account
	// matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned by UserDirectory.Create when the storage
	// uniqueness constraint rejects the email.
	ErrDuplicateEmail = errors.New("email already registered")
)

const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidToken       = "invalid or expired token"
	msgEmailTaken         = "user with this email already exists"
	msgWeakPassword       = "password does not meet strength requirements"
	msgAccountInactive    = "account is not active"
	msgSessionNotFound    = "session not found"
	msgSessionInactive    = "session expired or inactive"
	msgIncorrectPassword  = "current password is incorrect"
	msgAuthRequired       = "authentication required"
	msgUserNotFound       = "user not found"
)

// KindOf returns the kind carried by err, or KindInternal for errors that
// did not originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func internalError(cause error) *Error {
	return &Error{Kind: KindInternal, Message: kindMessages[KindInternal], Err: cause}
}

func unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

func rateLimited() *Error {
	return &Error{Kind: KindRateLimited, Message: kindMessages[KindRateLimited]}
}

func validationError(message string, violations []string) *Error {
	return &Error{Kind: KindValidation, Message: message, Violations: violations}
}
