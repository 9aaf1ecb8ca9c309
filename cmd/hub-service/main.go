// cmd/hub-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"handoff/internal/cache"
	"handoff/internal/hub"
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
	rdb := db.MustRedis(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := tenants.SeedFromEnv(context.Background(), pool, os.Getenv("TENANT_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log, cfg.TenantSeedFile)
	}

	var store cache.Store
	if rdb != nil {
		store = cache.NewRedis(rdb)
	} else {
		store = cache.NewMemory()
		log.Warnw("using in-memory session cache; handshake state will not survive restarts")
	}

	sessions := identity.NewCookieSessions("handoff_hub_session", []byte(cfg.InstallKey), cfg.Env != "dev")
	svc := hub.New(store, prov, []byte(cfg.InstallKey), cfg.CodeTTL, cfg.BearerTTL, cfg.AttachWindow, logger.Named(log, "hub"))
	handler := hub.NewHandler(svc, prov, sessions, cfg, logger.Named(log, "hub"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing(cfg, "handoff-hub"))
	// Cross-origin calls come only from domains the directory knows about.
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			u, err := url.Parse(origin)
			if err != nil || u.Host == "" {
				return false
			}
			if u.Host == cfg.MainDomain {
				return true
			}
			_, err = prov.ResolveTenantByHost(r.Context(), u.Host)
			return err == nil
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	handler.Routes(r)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Initial authentication (password/2FA) is a separate system; these dev
	// stubs stand in for it so a local install can establish a hub session.
	if cfg.Env == "dev" {
		r.Get("/login", func(w http.ResponseWriter, r *http.Request) {
			u := identity.User{ID: r.URL.Query().Get("user"), Login: r.URL.Query().Get("login")}
			if u.ID == "" {
				http.Error(w, "user query param required", http.StatusBadRequest)
				return
			}
			if err := sessions.Create(w, u, cfg.SessionTTL); err != nil {
				http.Error(w, "session", http.StatusInternalServerError)
				return
			}
			w.Write([]byte("signed in as " + u.ID))
		})
		r.Get("/logout", func(w http.ResponseWriter, _ *http.Request) {
			sessions.Clear(w)
			w.Write([]byte("signed out"))
		})
	}

	srv := &http.Server{Addr: cfg.HubAddr, Handler: r}
	go func() {
		log.Infow("hub-service listening", "addr", cfg.HubAddr)
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
	fmt.Println("hub-service stopped")
}
