package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Handler builds the standalone HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Logger, chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	a.Routes(r)
	return r
}

// Routes mounts the admin surface on an existing router.
func (a *App) Routes(r chi.Router) {
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(a.adminAuth)
		ar.Get("/tenants", a.listTenants)
		ar.Post("/tenants", a.createTenant)
		ar.Get("/tenants/{id}", a.getTenant)
		ar.Post("/tenants/{id}/domains", a.addDomain)
		ar.Delete("/tenants/{id}/domains/{domain}", a.removeDomain)
	})
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
