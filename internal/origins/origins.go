// Package origins computes which HTTP origins may participate in a handshake:
// the installation's main domain plus every active domain bound to the tenant.
// The same set feeds the CORS layer and the open-redirect guard on return_url.
package origins

import (
	"context"
	"net/url"
	"strings"

	"handoff/pkg/tenants"
)

// AllowedHosts returns the hosts permitted for a tenant's handshake traffic:
// the main domain plus all of the tenant's active domains.
func AllowedHosts(ctx context.Context, prov tenants.Provider, mainDomain string, t tenants.Tenant) ([]string, error) {
	hosts := []string{mainDomain}
	domains, err := prov.ListDomains(ctx, t.ID)
	if err != nil {
		// Fall back to the tenant record itself; the directory may lag a
		// freshly mapped domain.
		domains = t.Domains
	}
	for _, d := range domains {
		if d != "" && d != mainDomain {
			hosts = append(hosts, d)
		}
	}
	return hosts, nil
}

// Origins expands hosts into origin strings for CORS checks. Dev installs run
// plain HTTP, so both schemes are included there.
func Origins(hosts []string, env string) []string {
	var out []string
	for _, h := range hosts {
		out = append(out, "https://"+h)
		if env == "dev" {
			out = append(out, "http://"+h)
		}
	}
	return out
}

// HostAllowed matches a request host (with or without port) against the set.
func HostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(host, a) {
			return true
		}
	}
	return false
}

// OriginAllowed validates an Origin header value against the allowed hosts.
func OriginAllowed(origin string, hosts []string, env string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "https" && !(env == "dev" && u.Scheme == "http") {
		return false
	}
	return HostAllowed(u.Host, hosts)
}

// ReturnURLAllowed rejects redirect targets whose host is outside the allowed
// set before any redirect is issued.
func ReturnURLAllowed(raw string, hosts []string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return HostAllowed(u.Host, hosts)
}
