// cmd/site-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"handoff/internal/handshake"
	"handoff/internal/origins"
	"handoff/pkg/config"
	"handoff/pkg/db"
	"handoff/pkg/identity"
	"handoff/pkg/logger"
	"handoff/pkg/middleware"
	"handoff/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log, cfg.TenantSeedFile)
	}

	sessions := identity.NewCookieSessions("handoff_site_session", []byte(cfg.InstallKey), cfg.Env != "dev")
	orch := handshake.NewOrchestrator(cfg, sessions, sessions, nil, logger.Named(log, "handshake"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing(cfg, "handoff-site"))
	r.Use(middleware.WithTenant(prov))
	// Cross-origin requests on a tenant domain may only come from the main
	// domain or one of the tenant's own mapped domains.
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			t := middleware.TenantFrom(r.Context())
			if t.ID == "" {
				return false
			}
			hosts, err := origins.AllowedHosts(r.Context(), prov, cfg.MainDomain, t)
			if err != nil {
				return false
			}
			return origins.OriginAllowed(origin, hosts, cfg.Env)
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	r.Use(orch.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/logout", orch.Logout)
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		t := middleware.TenantFrom(r.Context())
		if u, ok := sessions.CurrentUser(r); ok {
			fmt.Fprintf(w, "tenant %s: hello %s (user %s)\n", t.Slug, u.Login, u.ID)
			return
		}
		fmt.Fprintf(w, "tenant %s: hello anonymous\n", t.Slug)
	})

	srv := &http.Server{Addr: cfg.SiteAddr, Handler: r}
	go func() {
		log.Infow("site-service listening", "addr", cfg.SiteAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("site-service stopped")
}
