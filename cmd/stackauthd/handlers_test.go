package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/stackauth"
	"github.com/MrEthical07/stackauth/middleware"
)

const testPassword = "Str0ng!Pass"

// userMap is a stackauth.UserDirectory kept in memory.
type userMap struct {
	mu    sync.Mutex
	users map[string]stackauth.User
	next  int
}

func (d *userMap) FindByEmail(_ context.Context, email string) (stackauth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email && u.Active {
			return u, nil
		}
	}
	return stackauth.User{}, stackauth.ErrUserNotFound
}

func (d *userMap) FindByID(_ context.Context, id string) (stackauth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok || !u.Active {
		return stackauth.User{}, stackauth.ErrUserNotFound
	}
	return u, nil
}

func (d *userMap) Create(_ context.Context, p stackauth.NewUser) (stackauth.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == p.Email {
			return stackauth.User{}, stackauth.ErrDuplicateEmail
		}
	}
	d.next++
	u := stackauth.User{
		ID:           fmt.Sprintf("u%d", d.next),
		Email:        p.Email,
		Name:         p.Name,
		PasswordHash: p.PasswordHash,
		Role:         p.Role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	d.users[u.ID] = u
	return u, nil
}

func (d *userMap) UpdateLastActive(context.Context, string, time.Time) error { return nil }

func (d *userMap) SetVerified(_ context.Context, id string) error {
	return d.update(id, func(u *stackauth.User) { u.Verified = true })
}

func (d *userMap) SetPasswordHash(_ context.Context, id string, hash string) error {
	return d.update(id, func(u *stackauth.User) { u.PasswordHash = hash })
}

func (d *userMap) update(id string, fn func(*stackauth.User)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return stackauth.ErrUserNotFound
	}
	fn(&u)
	d.users[id] = u
	return nil
}

// memoryOutbox records delivered messages.
type memoryOutbox struct {
	mu   sync.Mutex
	msgs []outboxMessage
}

func (o *memoryOutbox) Deliver(_ context.Context, msg outboxMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *memoryOutbox) last(t *testing.T, kind string) outboxMessage {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind == kind {
			return o.msgs[i]
		}
	}
	t.Fatalf("no %s message in outbox", kind)
	return outboxMessage{}
}

type testServer struct {
	handler http.Handler
	outbox  *memoryOutbox
}

func newTestServer(t *testing.T, role stackauth.Role) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := stackauth.DefaultConfig()
	cfg.JWT.Secret = []byte(strings.Repeat("k", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Account.DefaultRole = role

	engine, err := stackauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserDirectory(&userMap{users: map[string]stackauth.User{}}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	box := &memoryOutbox{}
	a := &api{engine: engine, outbox: box, logger: zap.NewNop()}
	return &testServer{handler: a.routes(routeOptions{}), outbox: box}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.7:5000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
}

func bearer(tokens stackauth.Tokens) map[string]string {
	return map[string]string{
		"Authorization":          "Bearer " + tokens.AccessToken,
		middleware.SessionHeader: tokens.SessionToken,
	}
}

func (s *testServer) register(t *testing.T, email string) stackauth.AuthResult {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/register", stackauth.RegisterRequest{
		Name:     "Ada Lovelace",
		Email:    email,
		Password: testPassword,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	var res stackauth.AuthResult
	decodeInto(t, rec, &res)
	return res
}

func TestRegisterDeliversVerificationToken(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)
	res := s.register(t, "Ada@Example.com")

	if res.Tokens.AccessToken == "" || res.Tokens.SessionToken == "" {
		t.Fatalf("expected tokens, got %+v", res.Tokens)
	}
	msg := s.outbox.last(t, kindEmailVerification)
	if msg.Email != "ada@example.com" || msg.Token == "" {
		t.Fatalf("unexpected outbox message %+v", msg)
	}

	rec := s.do(t, http.MethodPost, "/auth/verify-email", map[string]string{"token": msg.Token}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/auth/profile", nil, bearer(res.Tokens))
	var body struct {
		User stackauth.PublicUser `json:"user"`
	}
	decodeInto(t, rec, &body)
	if !body.User.IsVerified {
		t.Fatalf("expected verified profile, got %+v", body.User)
	}
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)
	s.register(t, "ada@example.com")

	rec := s.do(t, http.MethodPost, "/auth/register", stackauth.RegisterRequest{
		Name: "Ada", Email: "ada@example.com", Password: testPassword,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestLoginRefreshAndLogout(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)
	s.register(t, "ada@example.com")

	rec := s.do(t, http.MethodPost, "/auth/login", stackauth.LoginRequest{
		Email: "ada@example.com", Password: testPassword,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var login stackauth.AuthResult
	decodeInto(t, rec, &login)

	rec = s.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": login.Tokens.RefreshToken}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}

	headers := bearer(login.Tokens)
	if rec := s.do(t, http.MethodGet, "/auth/session", nil, headers); rec.Code != http.StatusOK {
		t.Fatalf("session before logout: status %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/auth/logout", nil, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status %d body %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodGet, "/auth/session", nil, headers); rec.Code != http.StatusUnauthorized {
		t.Fatalf("session after logout: expected 401, got %d", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)
	s.register(t, "ada@example.com")

	rec := s.do(t, http.MethodPost, "/auth/login", stackauth.LoginRequest{
		Email: "ada@example.com", Password: "Wr0ng!Pass",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)
	s.register(t, "ada@example.com")

	rec := s.do(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": " ADA@example.com "}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("forgot: status %d body %s", rec.Code, rec.Body.String())
	}
	msg := s.outbox.last(t, kindPasswordReset)
	if msg.Email != "ada@example.com" {
		t.Fatalf("unexpected reset recipient %q", msg.Email)
	}

	rec = s.do(t, http.MethodPost, "/auth/password/reset", map[string]string{
		"token": msg.Token, "newPassword": "N3w!Passw0rd",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/auth/login", stackauth.LoginRequest{
		Email: "ada@example.com", Password: "N3w!Passw0rd",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: status %d", rec.Code)
	}
}

func TestForgotPasswordUnknownEmailSendsNothing(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)

	rec := s.do(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": "nobody@example.com"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected uniform 200, got %d", rec.Code)
	}
	if len(s.outbox.msgs) != 0 {
		t.Fatalf("expected empty outbox, got %+v", s.outbox.msgs)
	}
}

func TestChangePasswordRequiresLiveSession(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)
	res := s.register(t, "ada@example.com")

	body := map[string]string{"oldPassword": testPassword, "newPassword": "N3w!Passw0rd"}
	noSession := map[string]string{"Authorization": "Bearer " + res.Tokens.AccessToken}
	if rec := s.do(t, http.MethodPost, "/auth/password/change", body, noSession); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/auth/password/change", body, bearer(res.Tokens))
	if rec.Code != http.StatusOK {
		t.Fatalf("change: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUserProfileRequiresStaff(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)
	res := s.register(t, "ada@example.com")

	rec := s.do(t, http.MethodGet, "/users/"+res.User.ID, nil, bearer(res.Tokens))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for regular user, got %d", rec.Code)
	}

	admin := newTestServer(t, stackauth.RoleAdmin)
	res = admin.register(t, "root@example.com")
	rec = admin.do(t, http.MethodGet, "/users/"+res.User.ID, nil, bearer(res.Tokens))
	if rec.Code != http.StatusOK {
		t.Fatalf("admin lookup: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = admin.do(t, http.MethodGet, "/users/missing", nil, bearer(res.Tokens))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeInto(t, rec, &body)
	if body.Error.Kind != "validation" || body.Error.Message != "malformed request body" {
		t.Fatalf("unexpected error body %+v", body.Error)
	}
}

func TestHealthzAndMethodRouting(t *testing.T) {
	s := newTestServer(t, stackauth.RoleUser)

	if rec := s.do(t, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/auth/login", nil, nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET login, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/metrics", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics must be unmounted by default, got %d", rec.Code)
	}
}
