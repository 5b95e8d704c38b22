package shared

import (
	"context"
	"net/http"

	"github.com/comptoir-erp/comptoir-erp/internal/platform/httpx"
)

// Capabilities is an already-resolved set of boolean permissions. The
// reconciliation core never evaluates roles or environment flags itself; the
// caller resolves permissions up front and hands the result down through the
// request context.
type Capabilities map[string]bool

// Can reports whether the action is granted.
func (c Capabilities) Can(action string) bool {
	if c == nil {
		return false
	}
	return c[action]
}

type capabilityKey struct{}

// ContextWithCapabilities attaches a resolved capability set to the context.
func ContextWithCapabilities(ctx context.Context, caps Capabilities) context.Context {
	return context.WithValue(ctx, capabilityKey{}, caps)
}

// CapabilitiesFromContext returns the capability set, or an empty one.
func CapabilitiesFromContext(ctx context.Context) Capabilities {
	caps, _ := ctx.Value(capabilityKey{}).(Capabilities)
	return caps
}

// RequireCapability gates a route group on one action.
func RequireCapability(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !CapabilitiesFromContext(r.Context()).Can(action) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing capability: "+action)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
