package adminapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// mustJWKS fetches JWKS and panics on failure.
func mustJWKS(url string) jwk.Set {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		panic(err)
	}
	return set
}

// adminAuth validates the operator bearer. With no JWKS configured the
// surface stays closed unless the install runs in dev mode.
func (a *App) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminJWKS == nil {
			if a.devAllow {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "admin surface not configured", http.StatusForbidden)
			return
		}

		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		tok := strings.TrimSpace(authz[len("Bearer "):])
		jt, err := jwt.Parse([]byte(tok),
			jwt.WithKeySet(a.adminJWKS),
			jwt.WithIssuer(a.adminIssuer),
			jwt.WithAudience(a.adminAud),
			jwt.WithValidate(true),
		)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		role, _ := jt.Get("role")
		if s, _ := role.(string); s != "directory_admin" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
