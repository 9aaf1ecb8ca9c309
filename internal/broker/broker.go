// Package broker runs on each tenant domain. It initiates attachment with the
// hub, exchanges verification codes for bearer tokens, and keeps the browser's
// per-attempt handshake state in short-lived cookies. The shared secret is
// re-derived from the tenant record on every use; nothing secret is stored.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"handoff/internal/secrets"
	"handoff/pkg/identity"
	"handoff/pkg/tenants"
)

const (
	// TokenCookie holds the per-attempt handshake token.
	TokenCookie = "handoff_token"
	// BearerCookie holds the bearer between the verify redirect and the
	// done step; it lives for seconds.
	BearerCookie = "handoff_bearer"
)

var (
	// ErrInvalidCode: the hub rejected the code (checksum mismatch, expiry
	// or replay). Hard failure, never retried with the same code.
	ErrInvalidCode = errors.New("verification code rejected")
	// ErrBearerRejected: the hub would not resolve the bearer.
	ErrBearerRejected = errors.New("bearer rejected")
)

type Broker struct {
	tenant       tenants.Tenant
	hubURL       string
	installKey   []byte
	attachWindow time.Duration
	client       *http.Client
	log          *zap.SugaredLogger
}

func New(tenant tenants.Tenant, hubURL string, installKey []byte, attachWindow time.Duration, client *http.Client, log *zap.SugaredLogger) *Broker {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Broker{
		tenant:       tenant,
		hubURL:       strings.TrimRight(hubURL, "/"),
		installKey:   installKey,
		attachWindow: attachWindow,
		client:       client,
		log:          log,
	}
}

// ID returns the opaque broker id for this tenant.
func (b *Broker) ID() string {
	return secrets.EncodeBrokerID(b.tenant.ID, b.installKey)
}

// IsAttached reports whether a handshake attempt is already in flight for
// this browser.
func (b *Broker) IsAttached(r *http.Request) bool {
	ck, err := r.Cookie(TokenCookie)
	return err == nil && ck.Value != ""
}

// EnsureToken returns the browser's current handshake token, minting and
// setting a fresh one when none exists. Each attach attempt gets its own.
func (b *Broker) EnsureToken(w http.ResponseWriter, r *http.Request) string {
	if ck, err := r.Cookie(TokenCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	token := secrets.NewToken()
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(b.attachWindow / time.Second),
	})
	return token
}

// AttachURL builds the hub's grant endpoint URL for the given token, plus any
// caller-supplied params (return_url in particular).
func (b *Broker) AttachURL(token string, extra url.Values) (string, error) {
	secret, err := secrets.DeriveSecret(b.tenant, b.installKey)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("broker", b.ID())
	q.Set("token", token)
	q.Set("checksum", secrets.Checksum("attach", token, secret))
	return b.hubURL + "/sso/grant?" + q.Encode(), nil
}

// Verify exchanges a verification code for a bearer token. Any hub rejection
// is a hard failure: it means tampering or secret drift, not a transient.
func (b *Broker) Verify(ctx context.Context, code string) (string, error) {
	secret, err := secrets.DeriveSecret(b.tenant, b.installKey)
	if err != nil {
		return "", err
	}
	body := map[string]string{
		"broker":   b.ID(),
		"code":     code,
		"checksum": secrets.Checksum("verify", code, secret),
	}
	var out struct {
		Bearer string `json:"bearer"`
	}
	status, err := b.post(ctx, "/sso/verify", body, &out)
	if err != nil {
		return "", fmt.Errorf("verify call: %w", err)
	}
	if status != http.StatusOK || out.Bearer == "" {
		b.log.Errorw("code verification rejected",
			"broker_id", b.ID(), "status", status, "code", secrets.Digest(code))
		return "", ErrInvalidCode
	}
	return out.Bearer, nil
}

// Resolve exchanges a bearer for the verified user identity. The hub deletes
// the bearer on success, so this works exactly once per bearer.
func (b *Broker) Resolve(ctx context.Context, bearer string) (identity.User, error) {
	var out struct {
		User identity.User `json:"user"`
	}
	status, err := b.post(ctx, "/sso/resolve", map[string]string{"bearer": bearer}, &out)
	if err != nil {
		return identity.User{}, fmt.Errorf("resolve call: %w", err)
	}
	if status != http.StatusOK || out.User.ID == "" {
		return identity.User{}, ErrBearerRejected
	}
	return out.User, nil
}

// StoreBearer parks the bearer in a cookie across the done redirect.
func (b *Broker) StoreBearer(w http.ResponseWriter, bearer string) {
	http.SetCookie(w, &http.Cookie{
		Name:     BearerCookie,
		Value:    bearer,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   60,
	})
}

// BearerFrom reads the parked bearer, if any.
func (b *Broker) BearerFrom(r *http.Request) string {
	if ck, err := r.Cookie(BearerCookie); err == nil {
		return ck.Value
	}
	return ""
}

// ClearToken discards all local handshake state; called after the local
// session is minted, and on logout.
func (b *Broker) ClearToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: TokenCookie, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: BearerCookie, Value: "", Path: "/", MaxAge: -1})
}

func (b *Broker) post(ctx context.Context, path string, payload any, out any) (int, error) {
	raw, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.hubURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
