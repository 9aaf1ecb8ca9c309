package handshake

import "net/http"

// Action is what an inbound tenant-domain request means to the handshake.
type Action int

const (
	ActionNone   Action = iota
	ActionAttach        // explicit sso marker: start (or restart) a handshake
	ActionVerify        // redirected back from the hub with a code
	ActionError         // redirected back from the hub with an error flag
	ActionDone          // bearer parked locally, finalize the local session
)

// Markers recognized on tenant-domain URLs. The hub side uses the /sso/grant
// path instead of a query marker.
const (
	markerAttach = "sso"
	markerCode   = "sso-code"
	markerError  = "sso-error"
	markerDone   = "sso-done"
)

// Classify inspects the well-known query markers. Code beats done beats error
// beats attach, so a hand-crafted URL with several markers resolves to the
// furthest-along step, where its credentials get consumed and checked.
func Classify(r *http.Request) Action {
	q := r.URL.Query()
	switch {
	case q.Has(markerCode):
		return ActionVerify
	case q.Has(markerDone):
		return ActionDone
	case q.Has(markerError):
		return ActionError
	case q.Has(markerAttach):
		return ActionAttach
	}
	return ActionNone
}
