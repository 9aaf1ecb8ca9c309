// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type memProvider struct {
	log    *zap.SugaredLogger
	byHost map[string]Tenant
	byID   map[string]Tenant
}

type seedEntry struct {
	ID           string   `json:"id" yaml:"id"`
	Slug         string   `json:"slug" yaml:"slug"`
	Domains      []string `json:"domains" yaml:"domains"`
	RegisteredAt string   `json:"registered_at" yaml:"registered_at"` // RFC3339
}

// NewMemoryProviderFromEnv builds an in-memory directory from TENANT_SEED_JSON
// or a YAML seed file, falling back to a single localhost tenant for dev.
func NewMemoryProviderFromEnv(log *zap.SugaredLogger, seedFile string) Provider {
	p := &memProvider{log: log, byHost: map[string]Tenant{}, byID: map[string]Tenant{}}

	var entries []seedEntry
	if seed := os.Getenv("TENANT_SEED_JSON"); seed != "" {
		if err := json.Unmarshal([]byte(seed), &entries); err != nil {
			log.Warnw("tenant seed json", "err", err)
		}
	} else if seedFile != "" {
		raw, err := os.ReadFile(seedFile)
		if err != nil {
			log.Warnw("tenant seed file", "path", seedFile, "err", err)
		} else if err := yaml.Unmarshal(raw, &entries); err != nil {
			log.Warnw("tenant seed yaml", "path", seedFile, "err", err)
		}
	}

	if len(entries) == 0 {
		entries = []seedEntry{{
			ID:           "00000000-0000-0000-0000-000000000001",
			Slug:         "dev",
			Domains:      []string{"localhost:8081", "127.0.0.1:8081", "site.localtest.me:8081"},
			RegisteredAt: "2024-01-01T00:00:00Z",
		}}
	}
	for _, e := range entries {
		reg, err := time.Parse(time.RFC3339, e.RegisteredAt)
		if err != nil {
			log.Warnw("tenant seed registered_at unparseable, skipping", "slug", e.Slug, "err", err)
			continue
		}
		t := Tenant{ID: e.ID, Slug: e.Slug, Domains: e.Domains, RegisteredAt: reg}
		p.byID[t.ID] = t
		for _, d := range e.Domains {
			p.byHost[d] = t
		}
	}
	return p
}

// NewStaticProvider wires a fixed tenant set; used in tests.
func NewStaticProvider(ts ...Tenant) Provider {
	p := &memProvider{byHost: map[string]Tenant{}, byID: map[string]Tenant{}}
	for _, t := range ts {
		p.byID[t.ID] = t
		for _, d := range t.Domains {
			p.byHost[d] = t
		}
	}
	return p
}

func (m *memProvider) ResolveTenantByHost(ctx context.Context, host string) (Tenant, error) {
	if t, ok := m.byHost[host]; ok {
		return t, nil
	}
	return Tenant{}, ErrNotFound
}

func (m *memProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	if t, ok := m.byID[id]; ok {
		return t, nil
	}
	return Tenant{}, ErrNotFound
}

func (m *memProvider) ListDomains(ctx context.Context, tenantID string) ([]string, error) {
	t, ok := m.byID[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]string, len(t.Domains))
	copy(out, t.Domains)
	return out, nil
}
