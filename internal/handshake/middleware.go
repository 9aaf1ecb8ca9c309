// Package handshake is the HTTP-facing orchestrator on tenant domains. It
// classifies inbound requests into protocol actions, drives the broker
// through attach, verify and done, and converts a resolved identity into the
// tenant's own durable cookie session. Every protocol failure degrades to
// anonymous browsing: SSO is an enhancement, never a reason a page fails to
// load.
package handshake

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"handoff/internal/broker"
	"handoff/pkg/config"
	"handoff/pkg/identity"
	"handoff/pkg/metrics"
	"handoff/pkg/middleware"
)

// skipCookie suppresses re-attach for a few minutes after a handshake ended
// without a session (anonymous hub, expired code, ...). Without it every
// anonymous page view would bounce through the hub again — the redirect-loop
// guard the protocol requires.
const skipCookie = "handoff_skip"

type Orchestrator struct {
	cfg      config.Config
	auth     identity.Authenticator
	sessions identity.LocalSessions
	client   *http.Client
	log      *zap.SugaredLogger
}

func NewOrchestrator(cfg config.Config, auth identity.Authenticator, sessions identity.LocalSessions, client *http.Client, log *zap.SugaredLogger) *Orchestrator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Orchestrator{cfg: cfg, auth: auth, sessions: sessions, client: client, log: log}
}

// Middleware mounts the orchestrator in front of tenant page handlers. It
// expects middleware.WithTenant to have resolved the tenant already.
func (o *Orchestrator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := middleware.TenantFrom(r.Context())
		if t.ID == "" || exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		b := broker.New(t, o.cfg.HubURL, []byte(o.cfg.InstallKey), o.cfg.AttachWindow, o.client, o.log)

		switch Classify(r) {
		case ActionVerify:
			o.handleVerify(w, r, b)
		case ActionError:
			o.handleError(w, r, b)
		case ActionDone:
			o.handleDone(w, r, b)
		case ActionAttach:
			o.startAttach(w, r, b, next)
		default:
			if _, ok := o.auth.CurrentUser(r); ok {
				next.ServeHTTP(w, r)
				return
			}
			if o.cfg.AutoAttach && !hasSkip(r) && !b.IsAttached(r) {
				o.startAttach(w, r, b, next)
				return
			}
			next.ServeHTTP(w, r)
		}
	})
}

// startAttach redirects the browser to the hub's grant endpoint. If the
// attach URL cannot be built (secret derivation failed) the page renders
// anonymously instead of erroring.
func (o *Orchestrator) startAttach(w http.ResponseWriter, r *http.Request, b *broker.Broker, next http.Handler) {
	token := b.EnsureToken(w, r)
	attachURL, err := b.AttachURL(token, url.Values{"return_url": {cleanURL(r)}})
	if err != nil {
		metrics.HandshakeTotal.WithLabelValues("attach", "error").Inc()
		o.log.Errorw("attach url", "broker_id", b.ID(), "err", err)
		next.ServeHTTP(w, r)
		return
	}
	metrics.HandshakeTotal.WithLabelValues("attach", "ok").Inc()
	http.Redirect(w, r, attachURL, http.StatusFound)
}

// handleVerify exchanges the code from the hub redirect for a bearer, parks
// it in a cookie, and redirects to the done URL with the code stripped so a
// refresh cannot re-submit it.
func (o *Orchestrator) handleVerify(w http.ResponseWriter, r *http.Request, b *broker.Broker) {
	code := r.URL.Query().Get(markerCode)
	bearer, err := b.Verify(r.Context(), code)
	if err != nil {
		metrics.HandshakeTotal.WithLabelValues("verify", "error").Inc()
		o.log.Errorw("code verification failed", "broker_id", b.ID(), "err", err)
		b.ClearToken(w)
		setSkip(w)
		http.Redirect(w, r, cleanURL(r), http.StatusFound)
		return
	}
	b.StoreBearer(w, bearer)
	http.Redirect(w, r, withDoneMarker(cleanURL(r)), http.StatusFound)
}

// handleError ends the attempt quietly. "anonymous" is the everyday case of
// nobody being signed in at the hub; "denied" means a checksum was rejected
// and is worth an operator's attention.
func (o *Orchestrator) handleError(w http.ResponseWriter, r *http.Request, b *broker.Broker) {
	reason := r.URL.Query().Get(markerError)
	if reason == "denied" {
		metrics.HandshakeTotal.WithLabelValues("attach", "checksum_mismatch").Inc()
		o.log.Errorw("hub denied attach", "broker_id", b.ID(), "reason", reason)
	} else {
		metrics.HandshakeTotal.WithLabelValues("attach", "anonymous").Inc()
		o.log.Infow("handshake ended without a session", "broker_id", b.ID(), "reason", reason)
	}
	b.ClearToken(w)
	setSkip(w)
	http.Redirect(w, r, cleanURL(r), http.StatusFound)
}

// handleDone resolves the parked bearer through a hub server call (never the
// user's cookies) and mints the tenant's durable session. The bearer is gone
// after one resolution either way.
func (o *Orchestrator) handleDone(w http.ResponseWriter, r *http.Request, b *broker.Broker) {
	bearer := b.BearerFrom(r)
	if bearer == "" {
		metrics.HandshakeTotal.WithLabelValues("done", "error").Inc()
		o.log.Warnw("done without bearer", "broker_id", b.ID())
		b.ClearToken(w)
		setSkip(w)
		http.Redirect(w, r, cleanURL(r), http.StatusFound)
		return
	}
	u, err := b.Resolve(r.Context(), bearer)
	if err != nil {
		metrics.HandshakeTotal.WithLabelValues("done", "unknown_bearer").Inc()
		o.log.Warnw("bearer resolution failed", "broker_id", b.ID(), "err", err)
		b.ClearToken(w)
		setSkip(w)
		http.Redirect(w, r, cleanURL(r), http.StatusFound)
		return
	}
	if err := o.sessions.Create(w, u, o.cfg.SessionTTL); err != nil {
		metrics.HandshakeTotal.WithLabelValues("done", "error").Inc()
		o.log.Errorw("local session", "broker_id", b.ID(), "user_id", u.ID, "err", err)
		b.ClearToken(w)
		setSkip(w)
		http.Redirect(w, r, cleanURL(r), http.StatusFound)
		return
	}
	metrics.HandshakeTotal.WithLabelValues("done", "ok").Inc()
	o.log.Infow("local session minted", "broker_id", b.ID(), "user_id", u.ID)
	b.ClearToken(w)
	http.Redirect(w, r, cleanURL(r), http.StatusFound)
}

// Logout clears the local session and broker state on a tenant domain. The
// hub session is untouched: signing out of one tenant site is a local action.
func (o *Orchestrator) Logout(w http.ResponseWriter, r *http.Request) {
	t := middleware.TenantFrom(r.Context())
	if t.ID != "" {
		b := broker.New(t, o.cfg.HubURL, []byte(o.cfg.InstallKey), o.cfg.AttachWindow, o.client, o.log)
		b.ClearToken(w)
	}
	o.sessions.Clear(w)
	setSkip(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func exemptPath(p string) bool {
	if p == "/healthz" || p == "/metrics" || p == "/favicon.ico" {
		return true
	}
	return strings.HasPrefix(p, "/admin/") || strings.HasPrefix(p, "/static/")
}

func hasSkip(r *http.Request) bool {
	ck, err := r.Cookie(skipCookie)
	return err == nil && ck.Value != ""
}

func setSkip(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     skipCookie,
		Value:    "1",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300,
	})
}

// cleanURL rebuilds the request URL with every handshake marker removed.
func cleanURL(r *http.Request) string {
	q := r.URL.Query()
	for _, m := range []string{markerAttach, markerCode, markerError, markerDone} {
		q.Del(m)
	}
	u := url.URL{
		Scheme:   "http",
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: q.Encode(),
	}
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		u.Scheme = "https"
	}
	return u.String()
}

func withDoneMarker(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(markerDone, "1")
	u.RawQuery = q.Encode()
	return u.String()
}
