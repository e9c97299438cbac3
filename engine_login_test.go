package stackauth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

func TestLoginSessionLifetime(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	res, err := env.login(t, testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Message != msgLoggedIn {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if want := env.clock.Now().Add(7 * 24 * time.Hour); !res.Tokens.ExpiresAt.Equal(want) {
		t.Fatalf("expected 7 day session, got %v", res.Tokens.ExpiresAt)
	}

	res, err = env.login(t, testPassword, true)
	if err != nil {
		t.Fatalf("Login remember-me failed: %v", err)
	}
	if want := env.clock.Now().Add(30 * 24 * time.Hour); !res.Tokens.ExpiresAt.Equal(want) {
		t.Fatalf("expected 30 day session, got %v", res.Tokens.ExpiresAt)
	}

	sess, err := env.engine.LookupSession(context.Background(), res.Tokens.SessionToken)
	if err != nil {
		t.Fatalf("LookupSession failed: %v", err)
	}
	if sess.IP != testIP || sess.UserAgent != "stackauth-test" {
		t.Fatalf("unexpected session metadata %+v", sess)
	}

	env.engine.bg.Wait()
	if at, ok := env.users.lastActiveAt(res.User.ID); !ok || !at.Equal(env.clock.Now()) {
		t.Fatalf("expected last active to be recorded, got %v %v", at, ok)
	}
}

func TestLoginIsCaseInsensitiveOnEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	_, err := env.engine.Login(ipContext(testIP), LoginRequest{Email: "ADA@EXAMPLE.COM", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
}

func TestLoginFiveFailuresThenRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	for i := 0; i < 5; i++ {
		_, err := env.login(t, "Wr0ng!Pass", false)
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: expected unauthorized, got %v", i+1, err)
		}
		if err.Error() != msgInvalidCredentials {
			t.Fatalf("attempt %d: unexpected message %q", i+1, err.Error())
		}
	}

	_, err := env.login(t, testPassword, false)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit on 6th attempt even with correct password, got %v", err)
	}

	// Another IP has its own budget.
	if _, err := env.engine.Login(ipContext("198.51.100.4"), LoginRequest{Email: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login from other IP failed: %v", err)
	}
}

func TestLoginSuccessResetsBudget(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	for i := 0; i < 4; i++ {
		if _, err := env.login(t, "Wr0ng!Pass", false); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	}
	if _, err := env.login(t, testPassword, false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := env.login(t, "Wr0ng!Pass", false); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d after reset: expected unauthorized, got %v", i+1, err)
		}
	}
}

func TestLoginUnknownEmailIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	_, wrongPassword := env.login(t, "Wr0ng!Pass", false)
	_, unknown := env.engine.Login(ipContext(testIP), LoginRequest{Email: "nobody@example.com", Password: "Wr0ng!Pass"})

	if KindOf(wrongPassword) != KindOf(unknown) || wrongPassword.Error() != unknown.Error() {
		t.Fatalf("responses differ: %v vs %v", wrongPassword, unknown)
	}
}

func TestLoginRejectsDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	res := env.register(t)
	env.users.deactivate(res.User.ID)

	_, err := env.login(t, testPassword, false)
	if !errors.Is(err, ErrUnauthorized) || err.Error() != msgInvalidCredentials {
		t.Fatalf("expected generic unauthorized, got %v", err)
	}
}

func TestLoginMissingFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Login(ipContext(testIP), LoginRequest{Email: "ada@example.com"})
	assertKind(t, err, KindValidation)
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t)
	res := env.register(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := env.users.get(res.User.ID)
	u.PasswordHash = string(legacy)
	env.users.put(u)

	if _, err := env.login(t, testPassword, false); err != nil {
		t.Fatalf("Login with bcrypt hash failed: %v", err)
	}

	upgraded := env.users.get(res.User.ID).PasswordHash
	if !strings.HasPrefix(upgraded, "$argon2id$") {
		t.Fatalf("expected hash upgraded to argon2id, got %q", upgraded)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricPasswordRehash]; got != 1 {
		t.Fatalf("expected rehash metric 1, got %d", got)
	}

	if _, err := env.login(t, testPassword, false); err != nil {
		t.Fatalf("Login after upgrade failed: %v", err)
	}
	if env.users.hashWrites != 1 {
		t.Fatalf("expected exactly one hash write, got %d", env.users.hashWrites)
	}
}

func TestLoginLastActiveFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	env := newTestEnv(t, func(b *Builder) {
		b.WithLogger(zap.New(core))
	})
	env.register(t)
	env.users.lastActiveErr = errors.New("db down")

	if _, err := env.login(t, testPassword, false); err != nil {
		t.Fatalf("Login must not fail on last-active error: %v", err)
	}

	env.engine.bg.Wait()
	if logs.FilterMessage("update last active failed").Len() != 1 {
		t.Fatalf("expected one warning, got %v", logs.All())
	}
}

func TestLogoutSingleSession(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t)
	second, err := env.login(t, testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	caller := Identity{ID: first.User.ID}
	res, err := env.engine.Logout(context.Background(), caller, first.Tokens.SessionToken)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if res.Message != msgLoggedOut {
		t.Fatalf("unexpected message %q", res.Message)
	}

	if _, err := env.engine.LookupSession(context.Background(), first.Tokens.SessionToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected logged out session to be inactive, got %v", err)
	}
	if _, err := env.engine.LookupSession(context.Background(), second.Tokens.SessionToken); err != nil {
		t.Fatalf("other session should survive: %v", err)
	}

	_, err = env.engine.Logout(context.Background(), caller, first.Tokens.SessionToken)
	assertKind(t, err, KindNotFound)
}

func TestLogoutOtherUsersSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ada := env.register(t)

	_, err := env.engine.Logout(context.Background(), Identity{ID: "someone-else"}, ada.Tokens.SessionToken)
	assertKind(t, err, KindNotFound)

	if _, err := env.engine.LookupSession(context.Background(), ada.Tokens.SessionToken); err != nil {
		t.Fatalf("session must survive a foreign logout: %v", err)
	}
}

func TestLogoutAllSessions(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t)
	second, err := env.login(t, testPassword, true)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	res, err := env.engine.Logout(context.Background(), Identity{ID: first.User.ID}, "")
	if err != nil {
		t.Fatalf("Logout all failed: %v", err)
	}
	if res.Message != msgLoggedOutAll {
		t.Fatalf("unexpected message %q", res.Message)
	}

	for _, token := range []string{first.Tokens.SessionToken, second.Tokens.SessionToken} {
		if _, err := env.engine.LookupSession(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected session %s... inactive, got %v", token[:8], err)
		}
	}

	_, err = env.engine.Logout(context.Background(), Identity{}, "")
	assertKind(t, err, KindUnauthorized)
}

func TestRefreshTokenIssuesAccessOnly(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	env.clock.Advance(time.Hour)
	res, err := env.engine.RefreshToken(context.Background(), reg.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	if res.AccessToken == "" || res.AccessToken == reg.Tokens.AccessToken {
		t.Fatal("expected a new access token")
	}
	if want := env.clock.Now().Add(7 * 24 * time.Hour); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}

	id, err := env.engine.ResolveIdentity(context.Background(), res.AccessToken)
	if err != nil || id.ID != reg.User.ID {
		t.Fatalf("refreshed token does not resolve: %+v %v", id, err)
	}

	// Not rotated: the same refresh token keeps working.
	if _, err := env.engine.RefreshToken(context.Background(), reg.Tokens.RefreshToken); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
}

func TestRefreshTokenRejections(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	_, err := env.engine.RefreshToken(context.Background(), reg.Tokens.AccessToken)
	assertKind(t, err, KindUnauthorized)

	_, err = env.engine.RefreshToken(context.Background(), "not-a-token")
	assertKind(t, err, KindUnauthorized)

	env.users.deactivate(reg.User.ID)
	_, err = env.engine.RefreshToken(context.Background(), reg.Tokens.RefreshToken)
	assertKind(t, err, KindUnauthorized)
	if err.Error() != msgAccountInactive {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestRefreshTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	env.clock.Advance(31 * 24 * time.Hour)
	_, err := env.engine.RefreshToken(context.Background(), reg.Tokens.RefreshToken)
	assertKind(t, err, KindUnauthorized)
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshFailure]; got != 1 {
		t.Fatalf("expected refresh failure metric 1, got %d", got)
	}
}
