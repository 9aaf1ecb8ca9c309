// Package hub is the central participant of the handshake: it authenticates
// brokers by shared-secret checksum, issues single-use verification codes
// scoped to the main domain's authenticated session, and resolves bearers
// back to a user identity exactly once.
//
// Per-broker state lives only in the session cache and moves through
// NONE -> ATTACHED (code issued) -> VERIFIED (bearer issued) -> CONSUMED.
// Expiry is the only reaper; there is no logout transition here.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"handoff/internal/cache"
	"handoff/internal/secrets"
	"handoff/pkg/identity"
	"handoff/pkg/tenants"
)

// AttachOutcome is the sum-typed result of an attach call: exactly one of
// Code, MustRedirectSecure or Anonymous is set.
type AttachOutcome struct {
	// Code is the single-use verification code, present when the main-domain
	// browser held an authenticated session.
	Code string
	// MustRedirectSecure asks the caller to upgrade the flow to HTTPS before
	// a code can be issued. Not an error.
	MustRedirectSecure bool
	// Anonymous means the transport was fine but nobody is signed in on the
	// main domain; the broker should continue unauthenticated.
	Anonymous bool
}

type Service struct {
	store        cache.Store
	prov         tenants.Provider
	installKey   []byte
	codeTTL      time.Duration
	bearerTTL    time.Duration
	attachWindow time.Duration
	log          *zap.SugaredLogger
}

func New(store cache.Store, prov tenants.Provider, installKey []byte, codeTTL, bearerTTL, attachWindow time.Duration, log *zap.SugaredLogger) *Service {
	return &Service{
		store:        store,
		prov:         prov,
		installKey:   installKey,
		codeTTL:      codeTTL,
		bearerTTL:    bearerTTL,
		attachWindow: attachWindow,
		log:          log,
	}
}

func keySession(brokerID string) string    { return "sso:sess:" + brokerID }
func keyCode(brokerID, code string) string { return "sso:code:" + brokerID + ":" + code }
func keyBearer(bearer string) string       { return "sso:bearer:" + bearer }

// TenantForBroker decodes a broker id and resolves its tenant.
func (s *Service) TenantForBroker(ctx context.Context, brokerID string) (tenants.Tenant, error) {
	tenantID, err := secrets.DecodeBrokerID(brokerID, s.installKey)
	if err != nil {
		return tenants.Tenant{}, ErrUnknownBroker
	}
	t, err := s.prov.ResolveTenantByID(ctx, tenantID)
	if err != nil {
		return tenants.Tenant{}, ErrUnknownBroker
	}
	return t, nil
}

func (s *Service) brokerSecret(ctx context.Context, brokerID string) (tenants.Tenant, []byte, error) {
	t, err := s.TenantForBroker(ctx, brokerID)
	if err != nil {
		return tenants.Tenant{}, nil, err
	}
	secret, err := secrets.DeriveSecret(t, s.installKey)
	if err != nil {
		return tenants.Tenant{}, nil, err
	}
	return t, secret, nil
}

// Attach registers a broker's interest in the current browser session. With a
// valid checksum and an authenticated user it stores the pending attachment
// and returns a fresh single-use code; with no user it reports how the broker
// should proceed instead. No cache entry is written for anonymous attaches.
func (s *Service) Attach(ctx context.Context, brokerID, token, checksum string, user *identity.User, secureTransport bool) (AttachOutcome, error) {
	_, secret, err := s.brokerSecret(ctx, brokerID)
	if err != nil {
		return AttachOutcome{}, err
	}
	if !secrets.ChecksumValid("attach", token, checksum, secret) {
		s.log.Errorw("attach checksum mismatch",
			"broker_id", brokerID,
			"computed", secrets.Digest(secrets.Checksum("attach", token, secret)),
			"received", secrets.Digest(checksum),
		)
		return AttachOutcome{}, ErrChecksumMismatch
	}
	if user == nil {
		if !secureTransport {
			return AttachOutcome{MustRedirectSecure: true}, nil
		}
		return AttachOutcome{Anonymous: true}, nil
	}

	if err := s.store.Set(ctx, keySession(brokerID), token, s.attachWindow); err != nil {
		return AttachOutcome{}, fmt.Errorf("store attach session: %w", err)
	}
	code := secrets.NewCode()
	payload, _ := json.Marshal(user)
	if err := s.store.Set(ctx, keyCode(brokerID, code), string(payload), s.codeTTL); err != nil {
		return AttachOutcome{}, fmt.Errorf("store verification code: %w", err)
	}
	s.log.Infow("code issued", "broker_id", brokerID, "user_id", user.ID, "code", secrets.Digest(code))
	return AttachOutcome{Code: code}, nil
}

// VerifyCode atomically consumes a verification code and mints a bearer bound
// to the resolved user. Concurrent calls with the same code yield exactly one
// bearer; the rest fail with ErrCodeExpired.
func (s *Service) VerifyCode(ctx context.Context, brokerID, code, checksum string) (string, error) {
	_, secret, err := s.brokerSecret(ctx, brokerID)
	if err != nil {
		return "", err
	}
	if !secrets.ChecksumValid("verify", code, checksum, secret) {
		s.log.Errorw("verify checksum mismatch",
			"broker_id", brokerID,
			"computed", secrets.Digest(secrets.Checksum("verify", code, secret)),
			"received", secrets.Digest(checksum),
		)
		return "", ErrChecksumMismatch
	}
	payload, ok, err := s.store.TakeOnce(ctx, keyCode(brokerID, code))
	if err != nil {
		return "", fmt.Errorf("consume code: %w", err)
	}
	if !ok {
		return "", ErrCodeExpired
	}
	bearer := secrets.NewBearer()
	if err := s.store.Set(ctx, keyBearer(bearer), payload, s.bearerTTL); err != nil {
		return "", fmt.Errorf("store bearer: %w", err)
	}
	// The pending attachment is settled; drop it rather than waiting out
	// the window.
	_ = s.store.Delete(ctx, keySession(brokerID))
	s.log.Infow("bearer issued", "broker_id", brokerID, "bearer", secrets.Digest(bearer))
	return bearer, nil
}

// ResolveBearer exchanges a bearer for the user identity it was bound to,
// exactly once. A second call with the same bearer fails.
func (s *Service) ResolveBearer(ctx context.Context, bearer string) (identity.User, error) {
	payload, ok, err := s.store.TakeOnce(ctx, keyBearer(bearer))
	if err != nil {
		return identity.User{}, fmt.Errorf("consume bearer: %w", err)
	}
	if !ok {
		return identity.User{}, ErrUnknownBearer
	}
	var u identity.User
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return identity.User{}, fmt.Errorf("decode bearer payload: %w", err)
	}
	return u, nil
}
