package httpapi

import (
	"context"
	"net/http"

	"github.com/tylern4/balsam/pkg/apperrors"
)

// OwnerResolver resolves the owner id a request is scoped to. Every
// resource in this package is owner-scoped (spec §3 Ownership); how a
// deployment authenticates the caller to produce that id is out of scope
// (spec Non-goals) and left to whatever OwnerResolver is wired in.
type OwnerResolver interface {
	OwnerID(r *http.Request) (string, error)
}

// HeaderOwnerResolver reads the owner id from a fixed request header. It is
// a development/testing seam, not an authentication mechanism: a real
// deployment should supply an OwnerResolver backed by whatever the
// deployment's actual auth layer (JWT, API key, mTLS identity) establishes.
type HeaderOwnerResolver struct {
	Header string
}

// OwnerID implements OwnerResolver.
func (h HeaderOwnerResolver) OwnerID(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = "X-Owner-ID"
	}
	v := r.Header.Get(name)
	if v == "" {
		return "", apperrors.AuthFailure("missing " + name)
	}
	return v, nil
}

type ownerCtxKey struct{}

func withOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerCtxKey{}, ownerID)
}

// ownerFromContext returns the owner id attached by ownerMiddleware.
func ownerFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ownerCtxKey{}).(string)
	return v
}
