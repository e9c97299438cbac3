package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/MrEthical07/stackauth"
)

// SessionHeader carries the opaque session token for RequireSession.
const SessionHeader = "X-Session-Token"

// SessionLookup returns the live session for a token. *stackauth.Engine
// implements it.
type SessionLookup interface {
	LookupSession(ctx context.Context, sessionToken string) (stackauth.Session, error)
}

// RequireSession must run after Authenticate. It additionally requires a
// live session owned by the authenticated identity, so logging out or
// resetting the password cuts off the request even while the access token
// is still valid.
func RequireSession(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, newError(stackauth.KindUnauthorized, "authentication required"))
				return
			}

			sess, err := sessions.LookupSession(r.Context(), r.Header.Get(SessionHeader))
			if err != nil {
				WriteError(w, err)
				return
			}
			if sess.UserID != id.ID {
				WriteError(w, newError(stackauth.KindUnauthorized, "session expired or inactive"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole allows only identities holding one of roles.
func RequireRole(roles ...stackauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, newError(stackauth.KindUnauthorized, "authentication required"))
				return
			}
			if !slices.Contains(roles, id.Role) {
				WriteError(w, newError(stackauth.KindForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireVerified allows only identities with a verified email.
func RequireVerified() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				WriteError(w, newError(stackauth.KindUnauthorized, "authentication required"))
				return
			}
			if !id.IsVerified {
				WriteError(w, newError(stackauth.KindForbidden, "email verification required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
