package adminapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type tenantView struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	RegisteredAt time.Time `json:"registered_at"`
	Domains      []string  `json:"domains"`
}

func (a *App) listTenants(w http.ResponseWriter, r *http.Request) {
	rows, err := a.db.Query(r.Context(), `SELECT id, slug, registered_at FROM tenants ORDER BY slug`)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	out := []tenantView{}
	for rows.Next() {
		var t tenantView
		if err := rows.Scan(&t.ID, &t.Slug, &t.RegisteredAt); err != nil {
			continue
		}
		out = append(out, t)
	}
	rows.Close()
	for i := range out {
		out[i].Domains = a.domainsFor(r, out[i].ID)
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var t tenantView
	err := a.db.QueryRow(r.Context(),
		`SELECT id, slug, registered_at FROM tenants WHERE id=$1`, id).
		Scan(&t.ID, &t.Slug, &t.RegisteredAt)
	if err == pgx.ErrNoRows {
		http.Error(w, "tenant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	t.Domains = a.domainsFor(r, t.ID)
	writeJSON(w, t, http.StatusOK)
}

type createTenantBody struct {
	Slug    string   `json:"slug"`
	Domains []string `json:"domains"`
}

// createTenant registers a tenant. registered_at is written exactly once
// here; the shared secret every broker derives depends on it, so nothing in
// this API can change it afterwards.
func (a *App) createTenant(w http.ResponseWriter, r *http.Request) {
	var b createTenantBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	b.Slug = strings.TrimSpace(b.Slug)
	if b.Slug == "" || len(b.Domains) == 0 {
		http.Error(w, "slug and at least one domain required", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	if _, err := a.db.Exec(r.Context(),
		`INSERT INTO tenants(id, slug) VALUES ($1, $2)`, id, b.Slug); err != nil {
		http.Error(w, "slug already taken", http.StatusConflict)
		return
	}
	for i, d := range b.Domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := a.db.Exec(r.Context(),
			`INSERT INTO tenant_domains(tenant_id, domain, is_primary) VALUES ($1, $2, $3)
			 ON CONFLICT (tenant_id, domain) DO UPDATE SET is_primary=EXCLUDED.is_primary, active=true`,
			id, d, i == 0); err != nil {
			a.log.Warnw("map domain", "tenant_id", id, "domain", d, "err", err)
		}
	}
	a.log.Infow("tenant registered", "tenant_id", id, "slug", b.Slug)
	writeJSON(w, map[string]any{"id": id}, http.StatusCreated)
}

type domainBody struct {
	Domain  string `json:"domain"`
	Primary bool   `json:"primary"`
}

func (a *App) addDomain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var b domainBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	b.Domain = strings.TrimSpace(b.Domain)
	if b.Domain == "" {
		http.Error(w, "domain required", http.StatusBadRequest)
		return
	}
	_, err := a.db.Exec(r.Context(),
		`INSERT INTO tenant_domains(tenant_id, domain, is_primary) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, domain) DO UPDATE SET is_primary=EXCLUDED.is_primary, active=true`,
		id, b.Domain, b.Primary)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	a.log.Infow("domain mapped", "tenant_id", id, "domain", b.Domain)
	writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
}

// removeDomain deactivates the mapping rather than deleting the row: a
// retired domain must stop resolving, but its history stays queryable.
func (a *App) removeDomain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	domain := chi.URLParam(r, "domain")
	tag, err := a.db.Exec(r.Context(),
		`UPDATE tenant_domains SET active=false WHERE tenant_id=$1 AND domain=$2`, id, domain)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if tag.RowsAffected() == 0 {
		http.Error(w, "domain not found", http.StatusNotFound)
		return
	}
	a.log.Infow("domain retired", "tenant_id", id, "domain", domain)
	writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
}

func (a *App) domainsFor(r *http.Request, tenantID string) []string {
	rows, err := a.db.Query(r.Context(), `SELECT domain FROM tenant_domains
		WHERE tenant_id=$1 AND active ORDER BY is_primary DESC, added_at`, tenantID)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err == nil {
			domains = append(domains, d)
		}
	}
	return domains
}
