package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"handoff/internal/cache"
	"handoff/internal/secrets"
	"handoff/pkg/identity"
	"handoff/pkg/tenants"
)

var installKey = []byte("hub-test-install-key")

func tenantT1() tenants.Tenant {
	return tenants.Tenant{
		ID:           "11111111-1111-1111-1111-111111111111",
		Slug:         "t1",
		Domains:      []string{"t1.example.com", "www.tenant-one.com"},
		RegisteredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestService(t *testing.T, codeTTL, bearerTTL time.Duration) (*Service, cache.Store) {
	t.Helper()
	store := cache.NewMemory()
	prov := tenants.NewStaticProvider(tenantT1())
	svc := New(store, prov, installKey, codeTTL, bearerTTL, 10*time.Minute, zap.NewNop().Sugar())
	return svc, store
}

// attachAsBroker performs the broker's side of an attach: fresh token plus a
// checksum computed from the independently derived secret.
func attachAsBroker(t *testing.T) (brokerID, token, checksum string) {
	t.Helper()
	secret, err := secrets.DeriveSecret(tenantT1(), installKey)
	require.NoError(t, err)
	token = secrets.NewToken()
	brokerID = secrets.EncodeBrokerID(tenantT1().ID, installKey)
	return brokerID, token, secrets.Checksum("attach", token, secret)
}

func verifyChecksum(t *testing.T, code string) string {
	t.Helper()
	secret, err := secrets.DeriveSecret(tenantT1(), installKey)
	require.NoError(t, err)
	return secrets.Checksum("verify", code, secret)
}

func TestHappyPathRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, time.Minute, time.Minute)
	user := identity.User{ID: "42", Login: "alice"}

	brokerID, token, sum := attachAsBroker(t)
	out, err := svc.Attach(ctx, brokerID, token, sum, &user, true)
	require.NoError(t, err)
	require.NotEmpty(t, out.Code)
	assert.False(t, out.Anonymous)
	assert.False(t, out.MustRedirectSecure)

	bearer, err := svc.VerifyCode(ctx, brokerID, out.Code, verifyChecksum(t, out.Code))
	require.NoError(t, err)
	require.NotEmpty(t, bearer)

	resolved, err := svc.ResolveBearer(ctx, bearer)
	require.NoError(t, err)
	assert.Equal(t, user, resolved)

	// Second resolution of the same bearer must fail.
	_, err = svc.ResolveBearer(ctx, bearer)
	assert.ErrorIs(t, err, ErrUnknownBearer)
}

func TestAttachChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, time.Minute, time.Minute)
	user := identity.User{ID: "42"}

	brokerID, token, sum := attachAsBroker(t)
	_, err := svc.Attach(ctx, brokerID, token, "0"+sum[1:], &user, true)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	// A rejected attach must not leave a pending session behind.
	_, ok, err := store.Get(ctx, keySession(brokerID))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAttachAnonymousOutcomes(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, time.Minute, time.Minute)

	brokerID, token, sum := attachAsBroker(t)
	out, err := svc.Attach(ctx, brokerID, token, sum, nil, false)
	require.NoError(t, err)
	assert.True(t, out.MustRedirectSecure)

	out, err = svc.Attach(ctx, brokerID, token, sum, nil, true)
	require.NoError(t, err)
	assert.True(t, out.Anonymous)

	// Neither anonymous outcome writes handshake state.
	_, ok, err := store.Get(ctx, keySession(brokerID))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyCodeChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, time.Minute, time.Minute)
	user := identity.User{ID: "42"}

	brokerID, token, sum := attachAsBroker(t)
	out, err := svc.Attach(ctx, brokerID, token, sum, &user, true)
	require.NoError(t, err)

	good := verifyChecksum(t, out.Code)
	_, err = svc.VerifyCode(ctx, brokerID, out.Code, "0"+good[1:])
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	// Checksum failure does not consume the code.
	_, err = svc.VerifyCode(ctx, brokerID, out.Code, good)
	assert.NoError(t, err)
}

func TestVerifyCodeAtMostOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, time.Minute, time.Minute)
	user := identity.User{ID: "42"}

	brokerID, token, sum := attachAsBroker(t)
	out, err := svc.Attach(ctx, brokerID, token, sum, &user, true)
	require.NoError(t, err)
	good := verifyChecksum(t, out.Code)

	const n = 16
	var okCount int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.VerifyCode(ctx, brokerID, out.Code, good); err == nil {
				mu.Lock()
				okCount++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrCodeExpired)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, okCount)
}

func TestCodeExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, 5*time.Millisecond, time.Minute)
	user := identity.User{ID: "42"}

	brokerID, token, sum := attachAsBroker(t)
	out, err := svc.Attach(ctx, brokerID, token, sum, &user, true)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = svc.VerifyCode(ctx, brokerID, out.Code, verifyChecksum(t, out.Code))
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestBearerExpiry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, time.Minute, 5*time.Millisecond)
	user := identity.User{ID: "42"}

	brokerID, token, sum := attachAsBroker(t)
	out, err := svc.Attach(ctx, brokerID, token, sum, &user, true)
	require.NoError(t, err)
	bearer, err := svc.VerifyCode(ctx, brokerID, out.Code, verifyChecksum(t, out.Code))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = svc.ResolveBearer(ctx, bearer)
	assert.ErrorIs(t, err, ErrUnknownBearer)
}

func TestUnknownBroker(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, time.Minute, time.Minute)

	_, err := svc.Attach(ctx, "bm90LWEtYnJva2Vy", "tok", "sum", nil, true)
	assert.ErrorIs(t, err, ErrUnknownBroker)

	_, err = svc.VerifyCode(ctx, "###", "code", "sum")
	assert.ErrorIs(t, err, ErrUnknownBroker)
}
