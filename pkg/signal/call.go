package signal

import (
	"github.com/pion/webrtc/v4"
	"time"
)

const pairSeparator = "|"

// PairKey returns the same key for (a, b) and (b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + pairSeparator + b
}

// CallDescriptor identifies one call between two identities.
type CallDescriptor struct {
	ID        string                     `json:"id"`
	Caller    string                     `json:"caller"`
	Callee    string                     `json:"callee"`
	MediaKind MediaKind                  `json:"mediaKind"`
	Accepted  bool                       `json:"accepted"`
	CreatedAt time.Time                  `json:"createdAt"`
	Offer     *webrtc.SessionDescription `json:"-"`
}

func (d CallDescriptor) Key() string {
	return PairKey(d.Caller, d.Callee)
}

func (d CallDescriptor) Involves(identity string) bool {
	return identity != "" && (d.Caller == identity || d.Callee == identity)
}

// Peer returns the other participant as seen from self.
func (d CallDescriptor) Peer(self string) string {
	if d.Caller == self {
		return d.Callee
	}
	return d.Caller
}
