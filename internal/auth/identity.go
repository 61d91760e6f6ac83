package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthenticated is returned when a request carries no valid credentials.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// AnonymousID is the ledger subject for unauthenticated callers.
const AnonymousID = "anonymous"

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	UserID   string
	UserName string
	Email    string
}

// Anonymous reports whether the identity carries no subject.
func (i Identity) Anonymous() bool { return strings.TrimSpace(i.UserID) == "" }

// Subject returns the user id, or AnonymousID for anonymous callers.
func (i Identity) Subject() string {
	if i.Anonymous() {
		return AnonymousID
	}
	return i.UserID
}

// Viewer is the provisioned caller placed in the request context.
type Viewer struct {
	Identity
	Balance int64
}

// Verifier resolves a bearer credential into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type viewerKey struct{}

// WithViewer returns a context carrying v.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, viewerKey{}, v)
}

// ViewerFrom returns the viewer in ctx. Contexts without one yield an anonymous viewer.
func ViewerFrom(ctx context.Context) Viewer {
	if v, ok := ctx.Value(viewerKey{}).(Viewer); ok {
		return v
	}
	return Viewer{}
}

// Verifiers tries each verifier in order and returns the first identity resolved.
type Verifiers []Verifier

// Verify implements Verifier.
func (vs Verifiers) Verify(ctx context.Context, token string) (Identity, error) {
	lastErr := ErrUnauthenticated
	for _, v := range vs {
		if v == nil {
			continue
		}
		id, err := v.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return Identity{}, lastErr
}
