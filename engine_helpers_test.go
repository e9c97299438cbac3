package stackauth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/stackauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testIP       = "203.0.113.7"
	testPassword = "Str0ng!Pass"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memoryDirectory is a UserDirectory kept in a map. Emails are unique
// across active and inactive accounts, like a storage constraint would be.
type memoryDirectory struct {
	mu     sync.Mutex
	users  map[string]User
	nextID int

	createErr     error
	lastActiveErr error
	lastActive    map[string]time.Time
	hashWrites    int
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{
		users:      map[string]User{},
		lastActive: map[string]time.Time{},
	}
}

func (d *memoryDirectory) FindByEmail(_ context.Context, email string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email && u.Active {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (d *memoryDirectory) FindByID(_ context.Context, id string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok || !u.Active {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (d *memoryDirectory) Create(_ context.Context, profile NewUser) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return User{}, d.createErr
	}
	for _, u := range d.users {
		if u.Email == profile.Email {
			return User{}, ErrDuplicateEmail
		}
	}
	d.nextID++
	u := User{
		ID:           fmt.Sprintf("u%d", d.nextID),
		Email:        profile.Email,
		Name:         profile.Name,
		PasswordHash: profile.PasswordHash,
		Role:         profile.Role,
		Active:       true,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	d.users[u.ID] = u
	return u, nil
}

func (d *memoryDirectory) UpdateLastActive(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastActiveErr != nil {
		return d.lastActiveErr
	}
	d.lastActive[id] = at
	return nil
}

func (d *memoryDirectory) SetVerified(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Verified = true
	d.users[id] = u
	return nil
}

func (d *memoryDirectory) SetPasswordHash(_ context.Context, id string, hash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	d.users[id] = u
	d.hashWrites++
	return nil
}

func (d *memoryDirectory) get(id string) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[id]
}

func (d *memoryDirectory) put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *memoryDirectory) deactivate(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.users[id]
	u.Active = false
	d.users[id] = u
}

func (d *memoryDirectory) lastActiveAt(id string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.lastActive[id]
	return at, ok
}

type testEnv struct {
	engine *Engine
	users  *memoryDirectory
	redis  *miniredis.Miniredis
	rdb    *redis.Client
	clock  *testClock
	audit  interface{ Events() <-chan AuditEvent }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte(strings.Repeat("s", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256}
	cfg.Metrics = MetricsConfig{Enabled: true, EnableLatencyHistograms: true}
	return cfg
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// newTestEnv builds an Engine on miniredis with fast Argon2 parameters.
// Options run against the builder after the defaults are applied.
func newTestEnv(t testing.TB, opts ...func(*Builder)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newTestClock()
	users := newMemoryDirectory()
	sink := NewChannelSink(256)

	b := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithUserDirectory(users).
		WithAuditSink(sink).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEnv{
		engine: engine,
		users:  users,
		redis:  mr,
		rdb:    rdb,
		clock:  clock,
		audit:  sink,
	}
}

func ipContext(ip string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), "stackauth-test")
}

// register creates Ada's account and returns the result.
func (env *testEnv) register(t testing.TB) *AuthResult {
	t.Helper()
	res, err := env.engine.Register(ipContext(testIP), RegisterRequest{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return res
}

func (env *testEnv) login(t testing.TB, pw string, rememberMe bool) (*AuthResult, error) {
	t.Helper()
	return env.engine.Login(ipContext(testIP), LoginRequest{
		Email:      "ada@example.com",
		Password:   pw,
		RememberMe: rememberMe,
	})
}

// drainAudit closes the engine and returns every emitted event.
func (env *testEnv) drainAudit() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case e := <-env.audit.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func newTestHasher(t testing.TB) *password.Argon2 {
	t.Helper()
	h, err := password.NewArgon2(testConfig().Password.hasher())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func assertKind(t testing.TB, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}
