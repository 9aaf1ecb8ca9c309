package handshake

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"handoff/internal/broker"
	"handoff/internal/cache"
	"handoff/internal/hub"
	"handoff/pkg/config"
	"handoff/pkg/identity"
	"handoff/pkg/middleware"
	"handoff/pkg/tenants"
)

const orchKey = "orchestrator-test-key"

var siteTenant = tenants.Tenant{
	ID:           "11111111-2222-3333-4444-555555555555",
	Slug:         "acme",
	Domains:      []string{"acme.example.com"},
	RegisteredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
}

func testConfig(hubURL string) config.Config {
	return config.Config{
		Env:          "test",
		HubURL:       hubURL,
		MainDomain:   "login.example.com",
		InstallKey:   orchKey,
		AutoAttach:   true,
		CodeTTL:      time.Minute,
		BearerTTL:    time.Minute,
		AttachWindow: 10 * time.Minute,
		SessionTTL:   time.Hour,
	}
}

// newSiteHandler wires the orchestrator the way site-service does: tenant
// resolution, then the handshake middleware, then a page that greets the
// session user or stays anonymous.
func newSiteHandler(cfg config.Config, prov tenants.Provider, sessions *identity.CookieSessions, client *http.Client) http.Handler {
	log := zap.NewNop().Sugar()
	orch := NewOrchestrator(cfg, sessions, sessions, client, log)
	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := sessions.CurrentUser(r); ok {
			fmt.Fprintf(w, "user %s", u.ID)
			return
		}
		io.WriteString(w, "anonymous")
	})
	return middleware.WithTenant(prov)(orch.Middleware(page))
}

func responseCookie(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAutoAttachRedirectsToGrant(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	req := httptest.NewRequest("GET", "http://acme.example.com/reports?year=2024", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()

	require.Equal(t, http.StatusFound, res.StatusCode)
	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "login.example.com", loc.Host)
	assert.Equal(t, "/sso/grant", loc.Path)

	q := loc.Query()
	assert.NotEmpty(t, q.Get("broker"))
	assert.NotEmpty(t, q.Get("checksum"))
	assert.Equal(t, "http://acme.example.com/reports?year=2024", q.Get("return_url"))

	ck := responseCookie(res, broker.TokenCookie)
	require.NotNil(t, ck, "attach must mint a handshake token cookie")
	assert.Equal(t, ck.Value, q.Get("token"))
}

func TestSkipCookieSuppressesAutoAttach(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	req := httptest.NewRequest("GET", "http://acme.example.com/reports", nil)
	req.AddCookie(&http.Cookie{Name: skipCookie, Value: "1"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestInFlightAttemptIsNotRestarted(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	req := httptest.NewRequest("GET", "http://acme.example.com/reports", nil)
	req.AddCookie(&http.Cookie{Name: broker.TokenCookie, Value: "already-in-flight"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestExplicitMarkerOverridesSkip(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	req := httptest.NewRequest("GET", "http://acme.example.com/reports?sso=1", nil)
	req.AddCookie(&http.Cookie{Name: skipCookie, Value: "1"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()

	require.Equal(t, http.StatusFound, res.StatusCode)
	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/sso/grant", loc.Path)
}

func TestErrorFlagEndsAttemptQuietly(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	req := httptest.NewRequest("GET", "http://acme.example.com/reports?sso-error=anonymous&year=2024", nil)
	req.AddCookie(&http.Cookie{Name: broker.TokenCookie, Value: "tok"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()

	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "http://acme.example.com/reports?year=2024", res.Header.Get("Location"))

	skip := responseCookie(res, skipCookie)
	require.NotNil(t, skip)
	assert.Equal(t, 300, skip.MaxAge)

	tok := responseCookie(res, broker.TokenCookie)
	require.NotNil(t, tok)
	assert.Equal(t, -1, tok.MaxAge)
}

func TestDoneWithoutBearerDegrades(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	req := httptest.NewRequest("GET", "http://acme.example.com/reports?sso-done=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()

	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "http://acme.example.com/reports", res.Header.Get("Location"))
	assert.NotNil(t, responseCookie(res, skipCookie))
	assert.Nil(t, responseCookie(res, sessions.Name()))
}

func TestAuthenticatedUserPassesThrough(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	seed := httptest.NewRecorder()
	require.NoError(t, sessions.Create(seed, identity.User{ID: "7", Login: "alice"}, time.Hour))
	ck := responseCookie(seed.Result(), sessions.Name())
	require.NotNil(t, ck)

	req := httptest.NewRequest("GET", "http://acme.example.com/reports", nil)
	req.AddCookie(ck)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user 7", rec.Body.String())
}

func TestExemptPathsBypassHandshake(t *testing.T) {
	prov := tenants.NewStaticProvider(siteTenant)
	sessions := identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	h := newSiteHandler(testConfig("https://login.example.com"), prov, sessions, nil)

	for _, path := range []string{"/favicon.ico", "/static/app.css", "/admin/tenants"} {
		req := httptest.NewRequest("GET", "http://acme.example.com"+path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}

// hubAuth is the hub side's authenticator stub for end-to-end runs.
type hubAuth struct {
	user identity.User
	ok   bool
}

func (a hubAuth) CurrentUser(*http.Request) (identity.User, bool) { return a.user, a.ok }

// forwardedProto marks requests to one host as HTTPS-terminated, the way a
// proxy in front of the hub would.
type forwardedProto struct {
	host string
	rt   http.RoundTripper
}

func (f forwardedProto) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host == f.host {
		req.Header.Set("X-Forwarded-Proto", "https")
	}
	return f.rt.RoundTrip(req)
}

// startEnv boots a real hub and a tenant site on loopback listeners, with the
// tenant's registered domain set to the site's actual host so the hub's
// return_url check passes.
func startEnv(t *testing.T, auth hubAuth) (siteURL, hubHost string, sessions *identity.CookieSessions) {
	t.Helper()
	log := zap.NewNop().Sugar()

	var siteHandler http.Handler
	siteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siteHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(siteSrv.Close)
	siteHost := strings.TrimPrefix(siteSrv.URL, "http://")

	tenant := siteTenant
	tenant.Domains = []string{siteHost}
	prov := tenants.NewStaticProvider(tenant)

	svc := hub.New(cache.NewMemory(), prov, []byte(orchKey), time.Minute, time.Minute, 10*time.Minute, log)
	hr := chi.NewRouter()
	hub.NewHandler(svc, prov, auth, config.Config{MainDomain: "login.example.com"}, log).Routes(hr)
	hubSrv := httptest.NewServer(hr)
	t.Cleanup(hubSrv.Close)

	cfg := testConfig(hubSrv.URL)
	sessions = identity.NewCookieSessions("handoff_site_session", []byte("session-key"), false)
	siteHandler = newSiteHandler(cfg, prov, sessions, nil)

	return siteSrv.URL, strings.TrimPrefix(hubSrv.URL, "http://"), sessions
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHandshakeEndToEnd(t *testing.T) {
	siteURL, _, _ := startEnv(t, hubAuth{user: identity.User{ID: "7", Login: "alice"}, ok: true})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	resp, err := client.Get(siteURL + "/welcome?tab=new")
	require.NoError(t, err)
	assert.Equal(t, "user 7", readBody(t, resp))

	// Every marker is gone from the final URL, the page params survive.
	assert.Equal(t, "/welcome", resp.Request.URL.Path)
	assert.Equal(t, "tab=new", resp.Request.URL.RawQuery)

	// The durable session carries the next request without any redirect.
	direct := &http.Client{Jar: jar, CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err = direct.Get(siteURL + "/welcome")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user 7", readBody(t, resp))
}

func TestEndToEndAnonymousHub(t *testing.T) {
	siteURL, hubHost, _ := startEnv(t, hubAuth{ok: false})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar:       jar,
		Transport: forwardedProto{host: hubHost, rt: http.DefaultTransport},
	}

	resp, err := client.Get(siteURL + "/welcome")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", readBody(t, resp))
	assert.Equal(t, "/welcome", resp.Request.URL.Path)
	assert.Empty(t, resp.Request.URL.RawQuery)

	// The skip cookie holds off the next auto-attach.
	direct := &http.Client{Jar: jar, CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err = direct.Get(siteURL + "/welcome")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "anonymous", readBody(t, resp))
}

func TestEndToEndStaleCodeDegrades(t *testing.T) {
	siteURL, _, _ := startEnv(t, hubAuth{user: identity.User{ID: "7", Login: "alice"}, ok: true})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	// A code the hub never issued: the verify call fails and the page loads
	// anonymously instead of erroring or looping.
	resp, err := client.Get(siteURL + "/welcome?sso-code=never-issued")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", readBody(t, resp))
	assert.Empty(t, resp.Request.URL.RawQuery)
}
