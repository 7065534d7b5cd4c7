package signal

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("bob", "alice") != PairKey("alice", "bob") {
		t.Fatalf("pair key differs by order")
	}
	if got := PairKey("bob", "alice"); got != "alice|bob" {
		t.Errorf("PairKey = %q, want alice|bob", got)
	}
}

func TestCallDescriptorPeer(t *testing.T) {
	d := CallDescriptor{Caller: "alice", Callee: "bob"}
	if d.Peer("alice") != "bob" || d.Peer("bob") != "alice" {
		t.Errorf("Peer returned wrong counterpart")
	}
	if !d.Involves("bob") || d.Involves("carol") || d.Involves("") {
		t.Errorf("Involves mismatch")
	}
}

func TestValidate(t *testing.T) {
	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	candidate := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}

	tests := []struct {
		name string
		in   Signal
		want error
	}{
		{"initiate ok", Signal{Type: TypeCallInitiate, To: "bob", SDP: offer, MediaKind: MediaVideo}, nil},
		{"initiate no recipient", Signal{Type: TypeCallInitiate, SDP: offer, MediaKind: MediaVideo}, ErrMissingRecipient},
		{"initiate no sdp", Signal{Type: TypeCallInitiate, To: "bob", MediaKind: MediaAudio}, ErrMissingSDP},
		{"initiate bad kind", Signal{Type: TypeCallInitiate, To: "bob", SDP: offer, MediaKind: "screen"}, ErrInvalidMediaKind},
		{"accept no sdp", Signal{Type: TypeCallAccept, To: "alice"}, ErrMissingSDP},
		{"reject ok", Signal{Type: TypeCallReject, To: "alice"}, nil},
		{"end without recipient", Signal{Type: TypeCallEnd}, nil},
		{"candidate missing", Signal{Type: TypeICECandidate, To: "bob"}, ErrMissingCandidate},
		{"candidate ok", Signal{Type: TypeICECandidate, To: "bob", Candidate: candidate}, nil},
		{"relay-only type", Signal{Type: TypeIncomingCall}, ErrUnknownSignalType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignalWireNames(t *testing.T) {
	s := Signal{Type: TypeIncomingCall, From: "alice", CallID: "c1", MediaKind: MediaAudio,
		Caller: &CallerInfo{ID: "alice", Name: "Alice"}}
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"type", "from", "callId", "mediaKind", "caller"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in %s", key, raw)
		}
	}
	if _, ok := m["to"]; ok {
		t.Errorf("empty recipient should be omitted: %s", raw)
	}
}
