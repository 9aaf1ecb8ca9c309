// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"net/http"

	"handoff/pkg/tenants"
)

type ctxTenantKey struct{}

// WithTenant resolves the request host against the tenant directory and stores
// the tenant in the request context. Mapped domains resolve the same as the
// primary domain. Health and metrics endpoints pass through without a tenant.
func WithTenant(prov tenants.Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/healthz", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			t, err := prov.ResolveTenantByHost(r.Context(), r.Host)
			if err != nil {
				http.Error(w, "unknown tenant", http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), ctxTenantKey{}, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TenantFrom(ctx context.Context) tenants.Tenant {
	if v := ctx.Value(ctxTenantKey{}); v != nil {
		return v.(tenants.Tenant)
	}
	return tenants.Tenant{}
}
