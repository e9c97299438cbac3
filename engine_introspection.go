package stackauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/stackauth/session"
)

// ResolveIdentity verifies an access token and loads the account it names.
// Tokens for accounts that were removed or deactivated after issuance are
// rejected even though their signature is still valid.
func (e *Engine) ResolveIdentity(ctx context.Context, accessToken string) (id Identity, err error) {
	ctx, span := e.startSpan(ctx, "stackauth.ResolveIdentity")
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricResolveLatency, time.Since(start))
		if err != nil {
			e.metricInc(MetricIdentityRejected)
		} else {
			e.metricInc(MetricIdentityResolved)
		}
		endSpan(span, err)
	}()

	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Identity{}, unauthorized(msgAuthRequired)
	}

	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return Identity{}, unauthorized(msgInvalidToken)
	}

	u, err := e.findUserByID(ctx, claims.Subject, unauthorized(msgAccountInactive))
	if err != nil {
		return Identity{}, err
	}
	return identityOf(u), nil
}

// LookupSession returns the active, unexpired session for sessionToken.
func (e *Engine) LookupSession(ctx context.Context, sessionToken string) (Session, error) {
	if sessionToken == "" {
		return Session{}, unauthorized(msgAuthRequired)
	}
	sess, err := e.sessions.FindActiveByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, unauthorized(msgSessionInactive)
		}
		return Session{}, internalError(err)
	}
	if !sess.Active || e.sessionMgr.IsExpired(sess) {
		return Session{}, unauthorized(msgSessionInactive)
	}
	return sess, nil
}
