package adminapi

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"handoff/pkg/tenants"
)

// Config holds admin-api specific configuration.
type Config struct {
	HTTPAddr     string
	OIDCIssuer   string
	OIDCAudience string
	JWKSURL      string
	// DevAllow opens the surface without a bearer; dev installs only.
	DevAllow bool
}

// App is the tenant directory's management surface: operators register
// tenants and map or retire their domains here. Handlers and middleware are
// methods on this type.
//
// Keep it lean: shared deps and config only.
// Request-scoped work should use context.
type App struct {
	log         *zap.SugaredLogger
	db          *pgxpool.Pool
	adminJWKS   jwk.Set
	adminIssuer string
	adminAud    string
	devAllow    bool
}

// New constructs App and makes sure the directory schema exists.
func New(log *zap.SugaredLogger, db *pgxpool.Pool, cfg Config) *App {
	app := &App{
		log:         log,
		db:          db,
		adminIssuer: cfg.OIDCIssuer,
		adminAud:    cfg.OIDCAudience,
		devAllow:    cfg.DevAllow,
	}
	if cfg.JWKSURL != "" {
		app.adminJWKS = mustJWKS(cfg.JWKSURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := tenants.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("ensure directory schema: %v", err)
	}
	return app
}
