package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/MrEthical07/stackauth"
)

// ResourceKind enumerates the resources whose ownership can be checked.
type ResourceKind uint8

const (
	ResourceQuestion ResourceKind = iota + 1
	ResourceAnswer
	ResourceComment
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceQuestion:
		return "question"
	case ResourceAnswer:
		return "answer"
	case ResourceComment:
		return "comment"
	default:
		return fmt.Sprintf("resource(%d)", uint8(k))
	}
}

func (k ResourceKind) valid() bool {
	return k >= ResourceQuestion && k <= ResourceComment
}

// OwnerLookup returns the id of the user owning resourceID. It returns
// ErrResourceNotFound (or an error matching stackauth.ErrNotFound) when the
// resource does not exist.
type OwnerLookup func(ctx context.Context, resourceID string) (ownerID string, err error)

var (
	// ErrResourceNotFound is returned by an OwnerLookup for a missing
	// resource.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrGuardFrozen is returned by Register after Freeze.
	ErrGuardFrozen = errors.New("ownership guard is frozen")
	// ErrDuplicateKind is returned when a kind is registered twice.
	ErrDuplicateKind = errors.New("resource kind already registered")
	// ErrUnknownKind is returned for kinds outside the enum.
	ErrUnknownKind = errors.New("unknown resource kind")
)

// OwnershipGuard authorizes callers against the owner of a resource.
// Register every kind during start-up, then Freeze.
type OwnershipGuard struct {
	mu      sync.RWMutex
	lookups map[ResourceKind]OwnerLookup
	frozen  bool
}

// NewOwnershipGuard returns an empty guard.
func NewOwnershipGuard() *OwnershipGuard {
	return &OwnershipGuard{lookups: make(map[ResourceKind]OwnerLookup, 3)}
}

// Register binds lookup to kind.
func (g *OwnershipGuard) Register(kind ResourceKind, lookup OwnerLookup) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if lookup == nil {
		return fmt.Errorf("nil lookup for %s", kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrGuardFrozen
	}
	if _, exists := g.lookups[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	g.lookups[kind] = lookup
	return nil
}

// Freeze rejects further registrations.
func (g *OwnershipGuard) Freeze() {
	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()
}

// Authorize allows the identity in ctx to act on resourceID when it owns
// the resource or holds a privileged role.
func (g *OwnershipGuard) Authorize(ctx context.Context, kind ResourceKind, resourceID string) error {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return newError(stackauth.KindUnauthorized, "authentication required")
	}
	if id.Role.Privileged() {
		return nil
	}

	g.mu.RLock()
	lookup, ok := g.lookups[kind]
	g.mu.RUnlock()
	if !ok {
		return &stackauth.Error{
			Kind:    stackauth.KindInternal,
			Message: stackauth.ErrInternal.Error(),
			Err:     fmt.Errorf("%w: %s", ErrUnknownKind, kind),
		}
	}

	owner, err := lookup(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) || errors.Is(err, stackauth.ErrNotFound) {
			return newError(stackauth.KindNotFound, kind.String()+" not found")
		}
		return &stackauth.Error{Kind: stackauth.KindInternal, Message: stackauth.ErrInternal.Error(), Err: err}
	}
	if owner != id.ID {
		return newError(stackauth.KindForbidden, "you do not own this "+kind.String())
	}
	return nil
}

// RequireOwner runs Authorize for the resource id extracted by resourceID,
// for example func(r *http.Request) string { return r.PathValue("id") }.
func RequireOwner(guard *OwnershipGuard, kind ResourceKind, resourceID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := guard.Authorize(r.Context(), kind, resourceID(r)); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
