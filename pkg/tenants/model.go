package tenants

import "time"

// Tenant is a provisioned sub-domain/mapped-domain unit of the installation.
type Tenant struct {
	ID           string    // uuid
	Slug         string    // short name (acme)
	Domains      []string  // primary domain first, then mapped aliases
	RegisteredAt time.Time // set once at provisioning; secret derivation depends on it never changing
}

// PrimaryDomain returns the tenant's canonical host.
func (t Tenant) PrimaryDomain() string {
	if len(t.Domains) == 0 {
		return ""
	}
	return t.Domains[0]
}

// HasDomain reports whether host is one of the tenant's bound domains.
func (t Tenant) HasDomain(host string) bool {
	for _, d := range t.Domains {
		if d == host {
			return true
		}
	}
	return false
}
