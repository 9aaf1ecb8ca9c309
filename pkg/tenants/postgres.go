// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool      // Connection pool to PostgreSQL
	log    *zap.SugaredLogger // Logger for diagnostic output
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant directory.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent). registered_at is written exactly once
// at insert; nothing in this subsystem ever updates it, because every
// previously established broker/hub pairing breaks if it changes.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  slug text UNIQUE,
  registered_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS tenant_domains (
  tenant_id uuid REFERENCES tenants(id) ON DELETE CASCADE,
  domain text UNIQUE NOT NULL,
  is_primary boolean NOT NULL DEFAULT false,
  active boolean NOT NULL DEFAULT true,
  added_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tenant_id, domain)
);
CREATE INDEX IF NOT EXISTS tenant_domains_domain_idx ON tenant_domains(domain) WHERE active;
`)
	return err
}

// SeedFromEnv ingests initial tenant + domain data.
// jsonSeed format (TENANT_SEED_JSON):
// [{"id":"...","slug":"...","domains":["a.example.com","b.example.com"],"registered_at":"2024-01-01T00:00:00Z"}]
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []seedEntry
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, entry := range entries {
		id := entry.ID
		if id == "" {
			id = uuid.NewString()
		}
		reg, err := time.Parse(time.RFC3339, entry.RegisteredAt)
		if err != nil {
			reg = time.Now().UTC()
		}
		// ON CONFLICT deliberately leaves registered_at untouched.
		_, _ = dbPool.Exec(ctx, `INSERT INTO tenants(id,slug,registered_at)
		  VALUES ($1,$2,$3)
		  ON CONFLICT (id) DO UPDATE SET slug=EXCLUDED.slug`,
			id, entry.Slug, reg)
		for i, d := range entry.Domains {
			_, _ = dbPool.Exec(ctx, `INSERT INTO tenant_domains(tenant_id,domain,is_primary)
			  VALUES ($1,$2,$3)
			  ON CONFLICT (tenant_id,domain) DO UPDATE SET is_primary=EXCLUDED.is_primary, active=true`,
				id, d, i == 0)
		}
	}
	return nil
}

const tenantByHostSQL = `SELECT t.id, t.slug, t.registered_at
FROM tenants t JOIN tenant_domains d ON d.tenant_id=t.id
WHERE d.domain=$1 AND d.active`

// ResolveTenantByHost fetches a tenant by any of its active domains.
func (p *pgProvider) ResolveTenantByHost(ctx context.Context, host string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, tenantByHostSQL, host)
	var t Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.RegisteredAt); err != nil {
		return Tenant{}, ErrNotFound
	}
	domains, err := p.ListDomains(ctx, t.ID)
	if err != nil {
		return Tenant{}, err
	}
	t.Domains = domains
	return t, nil
}

// ResolveTenantByID fetches a tenant by its UUID.
func (p *pgProvider) ResolveTenantByID(ctx context.Context, id string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT id, slug, registered_at FROM tenants WHERE id=$1`, id)
	var t Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.RegisteredAt); err != nil {
		return Tenant{}, ErrNotFound
	}
	domains, err := p.ListDomains(ctx, t.ID)
	if err != nil {
		return Tenant{}, err
	}
	t.Domains = domains
	return t, nil
}

// ListDomains returns active domains, primary first.
func (p *pgProvider) ListDomains(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT domain FROM tenant_domains
		WHERE tenant_id=$1 AND active ORDER BY is_primary DESC, added_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			continue
		}
		domains = append(domains, d)
	}
	if len(domains) == 0 {
		return nil, ErrNotFound
	}
	return domains, nil
}
