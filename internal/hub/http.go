package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"handoff/internal/origins"
	"handoff/internal/secrets"
	"handoff/pkg/config"
	"handoff/pkg/identity"
	"handoff/pkg/metrics"
	"handoff/pkg/problems"
	"handoff/pkg/tenants"
)

// Handler exposes the hub's three endpoints:
//
//	GET  /sso/grant   browser redirect in from a broker's attach URL
//	POST /sso/verify  broker exchanges a code for a bearer (server-to-server)
//	POST /sso/resolve broker resolves a bearer to an identity, single use
type Handler struct {
	svc  *Service
	prov tenants.Provider
	auth identity.Authenticator
	cfg  config.Config
	log  *zap.SugaredLogger
}

func NewHandler(svc *Service, prov tenants.Provider, auth identity.Authenticator, cfg config.Config, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, prov: prov, auth: auth, cfg: cfg, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/sso/grant", h.grant)
	r.Post("/sso/verify", h.verify)
	r.Post("/sso/resolve", h.resolve)
}

// grant handles the browser leg of an attach: validate the broker's request,
// then 302 back to the broker's return_url carrying either a code or an error
// flag, never both. An unlisted return_url host gets no redirect at all.
func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	brokerID := q.Get("broker")
	token := q.Get("token")
	checksum := q.Get("checksum")
	returnURL := q.Get("return_url")

	tenant, err := h.svc.TenantForBroker(r.Context(), brokerID)
	if err != nil {
		metrics.HandshakeTotal.WithLabelValues("grant", "error").Inc()
		h.log.Warnw("grant from unknown broker", "broker_id", brokerID)
		http.Error(w, "unknown broker", http.StatusNotFound)
		return
	}

	hosts, _ := origins.AllowedHosts(r.Context(), h.prov, h.cfg.MainDomain, tenant)
	if !origins.ReturnURLAllowed(returnURL, hosts) {
		metrics.HandshakeTotal.WithLabelValues("grant", "origin_rejected").Inc()
		h.log.Errorw("return_url rejected", "broker_id", brokerID, "return_url", returnURL)
		http.Error(w, "return_url not allowed", http.StatusForbidden)
		return
	}

	var userRef *identity.User
	if u, ok := h.auth.CurrentUser(r); ok {
		userRef = &u
	}
	out, err := h.svc.Attach(r.Context(), brokerID, token, checksum, userRef, requestIsSecure(r))
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		metrics.HandshakeTotal.WithLabelValues("grant", "checksum_mismatch").Inc()
		http.Redirect(w, r, withParam(returnURL, "sso-error", "denied"), http.StatusFound)
		return
	case err != nil:
		metrics.HandshakeTotal.WithLabelValues("grant", "error").Inc()
		h.log.Errorw("attach failed", "broker_id", brokerID, "err", err)
		http.Redirect(w, r, withParam(returnURL, "sso-error", "error"), http.StatusFound)
		return
	case out.MustRedirectSecure:
		metrics.HandshakeTotal.WithLabelValues("grant", "redirect_secure").Inc()
		secure := *r.URL
		secure.Scheme = "https"
		secure.Host = r.Host
		http.Redirect(w, r, secure.String(), http.StatusFound)
		return
	case out.Anonymous:
		metrics.HandshakeTotal.WithLabelValues("grant", "anonymous").Inc()
		http.Redirect(w, r, withParam(returnURL, "sso-error", "anonymous"), http.StatusFound)
		return
	}
	metrics.HandshakeTotal.WithLabelValues("grant", "ok").Inc()
	http.Redirect(w, r, withParam(returnURL, "sso-code", out.Code), http.StatusFound)
}

type verifyRequest struct {
	Broker   string `json:"broker"`
	Code     string `json:"code"`
	Checksum string `json:"checksum"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed-request", "Malformed verify request")
		return
	}
	bearer, err := h.svc.VerifyCode(r.Context(), req.Broker, req.Code, req.Checksum)
	switch {
	case errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrUnknownBroker):
		metrics.HandshakeTotal.WithLabelValues("verify", "checksum_mismatch").Inc()
		writeProblem(w, http.StatusUnauthorized, "checksum-mismatch", "Broker checksum rejected")
		return
	case errors.Is(err, ErrCodeExpired):
		metrics.HandshakeTotal.WithLabelValues("verify", "code_expired").Inc()
		metrics.ConsumeConflicts.WithLabelValues("code").Inc()
		writeProblem(w, http.StatusGone, "code-expired", "Verification code expired or already consumed")
		return
	case err != nil:
		metrics.HandshakeTotal.WithLabelValues("verify", "error").Inc()
		h.log.Errorw("verify failed", "broker_id", req.Broker, "err", err)
		writeProblem(w, http.StatusInternalServerError, "internal", "Verification failed")
		return
	}
	metrics.HandshakeTotal.WithLabelValues("verify", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"bearer": bearer})
}

type resolveRequest struct {
	Bearer string `json:"bearer"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed-request", "Malformed resolve request")
		return
	}
	u, err := h.svc.ResolveBearer(r.Context(), req.Bearer)
	switch {
	case errors.Is(err, ErrUnknownBearer):
		metrics.HandshakeTotal.WithLabelValues("resolve", "unknown_bearer").Inc()
		metrics.ConsumeConflicts.WithLabelValues("bearer").Inc()
		h.log.Warnw("unknown bearer", "bearer", secrets.Digest(req.Bearer))
		writeProblem(w, http.StatusNotFound, "unknown-bearer", "Bearer already consumed or never issued")
		return
	case err != nil:
		metrics.HandshakeTotal.WithLabelValues("resolve", "error").Inc()
		h.log.Errorw("resolve failed", "err", err)
		writeProblem(w, http.StatusInternalServerError, "internal", "Resolution failed")
		return
	}
	metrics.HandshakeTotal.WithLabelValues("resolve", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]identity.User{"user": u})
}

func requestIsSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

func withParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, slug, title string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   problems.Type(slug),
		"title":  title,
		"status": status,
	})
}
