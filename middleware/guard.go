package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/stackauth"
)

// IdentityResolver turns an access token into an active identity.
// *stackauth.Engine implements it.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, accessToken string) (stackauth.Identity, error)
}

// Authenticate rejects requests that do not carry a valid access token for
// an active account. On success the identity is attached to the request
// context.
func Authenticate(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				WriteError(w, newError(stackauth.KindUnauthorized, "authentication required"))
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, newError(stackauth.KindUnauthorized, "authentication required"))
				return
			}

			id, err := resolver.ResolveIdentity(r.Context(), token)
			if err != nil {
				if stackauth.KindOf(err) != stackauth.KindInternal {
					err = newError(stackauth.KindUnauthorized, err.Error())
				}
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuthenticate attaches an identity when the request carries a
// valid token and passes the request through unchanged otherwise. It never
// writes a response itself.
func OptionalAuthenticate(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver != nil {
				if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
					if id, err := resolver.ResolveIdentity(r.Context(), token); err == nil {
						r = r.WithContext(WithIdentity(r.Context(), id))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken accepts "Bearer <token>" with any scheme casing, or a bare
// token.
func bearerToken(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	const bearer = "bearer "
	if len(value) >= len(bearer) && strings.EqualFold(value[:len(bearer)], bearer) {
		value = strings.TrimSpace(value[len(bearer):])
	} else if strings.ContainsRune(value, ' ') {
		// Some other scheme, such as Basic.
		return "", false
	}

	if value == "" {
		return "", false
	}
	return value, true
}
