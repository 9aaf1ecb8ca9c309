// Package secrets derives the per-tenant shared secret and the checksums,
// tokens and identifiers exchanged during a handshake. Nothing here is
// persisted: both sides recompute the secret from the tenant's registration
// timestamp on every request, so the timestamp must never change after
// provisioning.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"handoff/pkg/tenants"
)

var (
	// ErrSecretDerivation means the tenant record cannot key a secret,
	// usually a zero registration timestamp.
	ErrSecretDerivation = errors.New("secret derivation failed")
	// ErrBadBrokerID means a broker id did not decode to a tenant id.
	ErrBadBrokerID = errors.New("malformed broker id")
)

// DeriveSecret computes the shared secret for a tenant: HMAC-SHA256 of the
// registration timestamp keyed by the installation key. Pure and stable:
// identical inputs yield an identical secret, forever.
func DeriveSecret(t tenants.Tenant, installKey []byte) ([]byte, error) {
	if t.RegisteredAt.IsZero() {
		return nil, fmt.Errorf("%w: tenant %s has no registration timestamp", ErrSecretDerivation, t.ID)
	}
	mac := hmac.New(sha256.New, installKey)
	mac.Write([]byte("secret:" + t.RegisteredAt.UTC().Format(time.RFC3339)))
	return mac.Sum(nil), nil
}

// Checksum authenticates a value for one protocol step (scope "attach" or
// "verify") under the tenant secret. Hex so it survives query strings.
func Checksum(scope, value string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(scope + ":" + value))
	return hex.EncodeToString(mac.Sum(nil))
}

// ChecksumValid compares a received checksum in constant time.
func ChecksumValid(scope, value, received string, secret []byte) bool {
	want := Checksum(scope, value, secret)
	return hmac.Equal([]byte(want), []byte(received))
}

// EncodeBrokerID maps a tenant id to an opaque broker id. The encoding is a
// salted, reversible obfuscation, not encryption: it lets the hub map a
// broker id back to a tenant without a lookup table, while keeping raw tenant
// ids out of URLs.
func EncodeBrokerID(tenantID string, installKey []byte) string {
	raw := []byte(tenantID)
	out := make([]byte, len(raw))
	ks := keystream(installKey, len(raw))
	for i := range raw {
		out[i] = raw[i] ^ ks[i]
	}
	return base64.RawURLEncoding.EncodeToString(out)
}

// DecodeBrokerID reverses EncodeBrokerID.
func DecodeBrokerID(brokerID string, installKey []byte) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(brokerID)
	if err != nil || len(raw) == 0 {
		return "", ErrBadBrokerID
	}
	ks := keystream(installKey, len(raw))
	out := make([]byte, len(raw))
	for i := range raw {
		out[i] = raw[i] ^ ks[i]
	}
	return string(out), nil
}

func keystream(installKey []byte, n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	block := sha256.Sum256(append([]byte("broker:"), installKey...))
	for len(out) < n {
		out = append(out, block[:]...)
		block = sha256.Sum256(block[:])
	}
	return out[:n]
}

// NewToken generates the broker's per-attempt handshake token.
func NewToken() string { return randomString(32) }

// NewCode generates a single-use verification code.
func NewCode() string { return randomString(24) }

// NewBearer generates a single-resolution bearer token.
func NewBearer() string { return randomString(32) }

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // rand.Read does not fail on supported platforms
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Digest returns a short fingerprint safe for logs; never log the value itself.
func Digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:4])
}
