package signal

import (
	"errors"
	"fmt"
	"github.com/pion/webrtc/v4"
)

type Type string

// Sent by a client to the relay.
const (
	TypeCallInitiate Type = "call-initiate"
	TypeCallAccept   Type = "call-accept"
	TypeCallReject   Type = "call-reject"
	TypeCallEnd      Type = "call-end"
)

// Sent by the relay to a client.
const (
	TypeIncomingCall Type = "incoming-call"
	TypeCallAccepted Type = "call-accepted"
	TypeCallRejected Type = "call-rejected"
	TypeCallEnded    Type = "call-ended"
	TypeCallError    Type = "call-error"
)

// Forwarded verbatim in both directions.
const (
	TypeICECandidate    Type = "ice-candidate"
	TypeCallRenegotiate Type = "call-renegotiate"
)

// Codes carried by call-error.
const (
	CodeCallInProgress = "call-in-progress"
	CodeUnreachable    = "unreachable"
	CodeRateLimited    = "rate-limited"
	CodeInvalidMessage = "invalid-message"
	CodeNoSuchCall     = "no-such-call"
	CodeUnauthorized   = "unauthorized"
)

var (
	ErrMissingRecipient  = errors.New("signal has no recipient")
	ErrMissingSDP        = errors.New("signal has no session description")
	ErrMissingCandidate  = errors.New("signal has no ice candidate")
	ErrInvalidMediaKind  = errors.New("invalid media kind")
	ErrUnknownSignalType = errors.New("unknown signal type")
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// CallerInfo is the public profile the relay attaches to incoming-call.
type CallerInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

type Signal struct {
	Type      Type                       `json:"type"`
	To        string                     `json:"to,omitempty"`
	From      string                     `json:"from,omitempty"`
	CallID    string                     `json:"callId,omitempty"`
	MediaKind MediaKind                  `json:"mediaKind,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Caller    *CallerInfo                `json:"caller,omitempty"`
	Code      string                     `json:"code,omitempty"`
	Message   string                     `json:"message,omitempty"`
}

// Validate checks the fields a client must supply for each outbound type.
func (s Signal) Validate() error {
	switch s.Type {
	case TypeCallInitiate:
		if s.To == "" {
			return ErrMissingRecipient
		}
		if s.SDP == nil {
			return ErrMissingSDP
		}
		if !s.MediaKind.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidMediaKind, s.MediaKind)
		}
	case TypeCallAccept, TypeCallRenegotiate:
		if s.To == "" {
			return ErrMissingRecipient
		}
		if s.SDP == nil {
			return ErrMissingSDP
		}
	case TypeCallReject:
		if s.To == "" {
			return ErrMissingRecipient
		}
	case TypeCallEnd:
	case TypeICECandidate:
		if s.To == "" {
			return ErrMissingRecipient
		}
		if s.Candidate == nil {
			return ErrMissingCandidate
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignalType, s.Type)
	}
	return nil
}

func Error(code, message string) Signal {
	return Signal{Type: TypeCallError, Code: code, Message: message}
}
