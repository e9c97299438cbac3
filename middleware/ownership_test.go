package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/stackauth"
)

func ownerTable(owners map[string]string) OwnerLookup {
	return func(_ context.Context, id string) (string, error) {
		owner, ok := owners[id]
		if !ok {
			return "", ErrResourceNotFound
		}
		return owner, nil
	}
}

func newGuard(t *testing.T) *OwnershipGuard {
	t.Helper()
	g := NewOwnershipGuard()
	if err := g.Register(ResourceQuestion, ownerTable(map[string]string{"q1": "u1", "q2": "u2"})); err != nil {
		t.Fatalf("Register question: %v", err)
	}
	if err := g.Register(ResourceAnswer, func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	}); err != nil {
		t.Fatalf("Register answer: %v", err)
	}
	g.Freeze()
	return g
}

func TestOwnershipGuardRegister(t *testing.T) {
	g := NewOwnershipGuard()
	lookup := ownerTable(nil)

	if err := g.Register(ResourceComment, lookup); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := g.Register(ResourceComment, lookup); !errors.Is(err, ErrDuplicateKind) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := g.Register(ResourceKind(42), lookup); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
	if err := g.Register(ResourceQuestion, nil); err == nil {
		t.Fatal("expected nil lookup to be rejected")
	}

	g.Freeze()
	if err := g.Register(ResourceQuestion, lookup); !errors.Is(err, ErrGuardFrozen) {
		t.Fatalf("expected frozen error, got %v", err)
	}
}

func TestOwnershipGuardAuthorize(t *testing.T) {
	g := newGuard(t)
	user := WithIdentity(context.Background(), stackauth.Identity{ID: "u1", Role: stackauth.RoleUser})

	tests := []struct {
		name string
		ctx  context.Context
		kind ResourceKind
		id   string
		want stackauth.Kind
		ok   bool
	}{
		{"owner", user, ResourceQuestion, "q1", 0, true},
		{"not owner", user, ResourceQuestion, "q2", stackauth.KindForbidden, false},
		{"missing resource", user, ResourceQuestion, "q9", stackauth.KindNotFound, false},
		{"lookup failure", user, ResourceAnswer, "a1", stackauth.KindInternal, false},
		{"unregistered kind", user, ResourceComment, "c1", stackauth.KindInternal, false},
		{"no identity", context.Background(), ResourceQuestion, "q1", stackauth.KindUnauthorized, false},
		{"moderator bypass", WithIdentity(context.Background(), stackauth.Identity{ID: "m1", Role: stackauth.RoleModerator}), ResourceQuestion, "q2", 0, true},
		{"admin bypass on broken lookup", WithIdentity(context.Background(), stackauth.Identity{ID: "a1", Role: stackauth.RoleAdmin}), ResourceAnswer, "a1", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Authorize(tc.ctx, tc.kind, tc.id)
			if tc.ok {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			if err == nil || stackauth.KindOf(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func TestOwnershipGuardAcceptsEngineNotFound(t *testing.T) {
	g := NewOwnershipGuard()
	_ = g.Register(ResourceComment, func(context.Context, string) (string, error) {
		return "", stackauth.ErrNotFound
	})
	ctx := WithIdentity(context.Background(), stackauth.Identity{ID: "u1", Role: stackauth.RoleUser})
	if err := g.Authorize(ctx, ResourceComment, "c1"); stackauth.KindOf(err) != stackauth.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequireOwner(t *testing.T) {
	g := newGuard(t)
	fromQuery := func(r *http.Request) string { return r.URL.Query().Get("id") }
	h := RequireOwner(g, ResourceQuestion, fromQuery)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		id     string
		status int
	}{
		{"q1", http.StatusNoContent},
		{"q2", http.StatusForbidden},
		{"q404", http.StatusNotFound},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodDelete, "/questions?id="+tc.id, nil)
		req = req.WithContext(WithIdentity(req.Context(), stackauth.Identity{ID: "u1", Role: stackauth.RoleUser}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.id, tc.status, rec.Code)
		}
	}
}
