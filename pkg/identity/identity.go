// Package identity is the boundary to the user-account collaborator: the hub
// reads the main domain's authenticated session through it, and the site
// service mints the tenant-domain durable session through it. The handshake
// itself never touches passwords or account records.
package identity

import (
	"net/http"
	"time"
)

// User is the resolved authenticated identity carried through a handshake.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// Authenticator reads an existing authenticated session from a request.
type Authenticator interface {
	// CurrentUser returns the user bound to the request's session, if any.
	CurrentUser(r *http.Request) (User, bool)
}

// LocalSessions mints and clears durable cookie sessions on a domain.
type LocalSessions interface {
	Create(w http.ResponseWriter, u User, ttl time.Duration) error
	Clear(w http.ResponseWriter)
}
