// pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HandshakeTotal counts protocol actions by outcome. Actions: attach,
	// grant, verify, resolve, done. Results: ok, anonymous, redirect_secure,
	// checksum_mismatch, code_expired, unknown_bearer, origin_rejected, error.
	HandshakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_handshake_total",
		Help: "SSO handshake actions by result",
	}, []string{"action", "result"})

	// ConsumeConflicts counts single-use credentials presented after they
	// were already consumed; a steady rate suggests replay attempts.
	ConsumeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "handoff_consume_conflicts_total",
		Help: "codes/bearers rejected because they were already consumed or expired",
	}, []string{"kind"})
)
