package call

import (
	"context"
	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/signal"
	wbc "github.com/peterouob/pionCall/pkg/webrtc"
	"github.com/pion/webrtc/v4"
)

// Signaler carries signals to the relay.
type Signaler interface {
	Send(ctx context.Context, s signal.Signal) error
	Connected() bool
}

type MediaSource interface {
	Acquire(ctx context.Context, kind signal.MediaKind) (*media.Stream, error)
	AcquireVideoTrack(ctx context.Context) (media.Track, error)
}

// Peer is the peer connection surface the manager drives.
type Peer interface {
	AddLocalTracks(stream *media.Stream, kind signal.MediaKind) error
	AddTrack(t media.Track) error
	RemoveTrack(trackID string) error
	SetTrackEnabled(trackID string, enabled bool) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Rollback() error
	SignalingState() webrtc.SignalingState
	Close() error
}

type PeerFactory func(remote string, events wbc.PeerEvents) (Peer, error)

func FromFactory(f *wbc.Factory) PeerFactory {
	return func(remote string, events wbc.PeerEvents) (Peer, error) {
		p, err := f.NewPeer(remote, events)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
