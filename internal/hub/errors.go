package hub

import "errors"

var (
	// ErrChecksumMismatch: secret drift or tampering. Hard failure, never
	// retried; logged with checksum digests, never the secret.
	ErrChecksumMismatch = errors.New("invalid checksum")
	// ErrCodeExpired covers missing, expired and already-consumed codes;
	// the normal outcome of replays and slow clients.
	ErrCodeExpired = errors.New("verification code expired or already consumed")
	// ErrUnknownBearer: bearer already resolved or never issued.
	ErrUnknownBearer = errors.New("unknown bearer")
	// ErrUnknownBroker: the broker id did not map to a tenant.
	ErrUnknownBroker = errors.New("unknown broker")
)
