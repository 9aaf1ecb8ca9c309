// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HubAddr  string // hub-service (central/main domain)
	SiteAddr string // site-service (tenant domains)

	// Public URL of the hub's SSO surface, e.g. https://app.example.com
	HubURL string
	// Apex host of the installation; always an allowed origin.
	MainDomain string

	// Installation-wide key: salts broker ids, keys secret derivation
	// and signs session cookies. Required outside dev.
	InstallKey string

	// When true the site-service starts a handshake for every
	// unauthenticated page view, not only when the sso marker is present.
	AutoAttach bool

	CodeTTL      time.Duration // verification code lifetime
	BearerTTL    time.Duration // bearer token lifetime
	AttachWindow time.Duration // pending attach / session-cache TTL
	SessionTTL   time.Duration // durable cookie sessions (hub + tenant)

	RedisURL    string
	DatabaseURL string

	// Optional YAML seed for the in-memory tenant directory.
	TenantSeedFile string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:            env("HANDOFF_ENV", "dev"),
		HubAddr:        env("HANDOFF_HUB_ADDR", ":8080"),
		SiteAddr:       env("HANDOFF_SITE_ADDR", ":8081"),
		HubURL:         env("HANDOFF_HUB_URL", "http://localhost:8080"),
		MainDomain:     env("HANDOFF_MAIN_DOMAIN", "localhost"),
		InstallKey:     env("HANDOFF_INSTALL_KEY", ""),
		AutoAttach:     envBool("HANDOFF_AUTO_ATTACH", true),
		CodeTTL:        envDur("HANDOFF_CODE_TTL_SEC", 300) * time.Second,
		BearerTTL:      envDur("HANDOFF_BEARER_TTL_SEC", 120) * time.Second,
		AttachWindow:   envDur("HANDOFF_ATTACH_WINDOW_SEC", 600) * time.Second,
		SessionTTL:     envDur("HANDOFF_SESSION_TTL_SEC", 86400) * time.Second,
		RedisURL:       env("REDIS_URL", ""),
		DatabaseURL:    env("DATABASE_URL", ""),
		TenantSeedFile: env("TENANT_SEED_FILE", ""),
	}
	if cfg.InstallKey == "" {
		if cfg.Env != "dev" {
			log.Fatal("HANDOFF_INSTALL_KEY must be set outside dev")
		}
		log.Println("[WARN] HANDOFF_INSTALL_KEY not set — using dev key")
		cfg.InstallKey = "handoff-dev-key"
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory tenant directory for dev")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
