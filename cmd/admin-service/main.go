// cmd/admin-service/main.go
package main

import (
	"net/http"
	"os"
	"strings"

	"handoff/internal/adminapi"
	"handoff/pkg/config"
	pdb "handoff/pkg/db"
	"handoff/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	bind := os.Getenv("ADMIN_HTTP_ADDR")
	if strings.TrimSpace(bind) == "" {
		bind = ":8082"
	}

	pool := pdb.MustConnect(cfg, log)
	if pool == nil {
		log.Fatalw("admin-service requires DATABASE_URL")
	}

	app := adminapi.New(log, pool, adminapi.Config{
		HTTPAddr:     bind,
		OIDCIssuer:   os.Getenv("ADMIN_OIDC_ISSUER"),
		OIDCAudience: os.Getenv("ADMIN_OIDC_AUDIENCE"),
		JWKSURL:      os.Getenv("ADMIN_JWKS_URL"),
		DevAllow:     cfg.Env == "dev",
	})

	log.Infof("admin-service listening at %s", bind)
	if err := http.ListenAndServe(bind, app.Handler()); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
