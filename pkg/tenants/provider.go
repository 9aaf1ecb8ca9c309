package tenants

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no tenant matches the host or id.
var ErrNotFound = errors.New("tenant not found")

// Provider is the read-only tenant directory consumed by the SSO subsystem.
// RegisteredAt must be stable for the lifetime of a tenant: both sides of the
// handshake re-derive the shared secret from it on every request.
type Provider interface {
	// Resolve tenant from incoming host (primary domain or any alias).
	ResolveTenantByHost(ctx context.Context, host string) (Tenant, error)
	// Resolve from id (used by the hub after decoding a broker id).
	ResolveTenantByID(ctx context.Context, id string) (Tenant, error)
	// ListDomains returns every currently-active domain bound to the tenant.
	ListDomains(ctx context.Context, tenantID string) ([]string, error)
}
