package wbc

import (
	"errors"
	"fmt"
	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"io"
	"sync"
)

var (
	ErrPeerClosed   = errors.New("peer connection closed")
	ErrUnknownTrack = errors.New("no sender for track")
)

// PeerEvents are the observers a Peer reports to. Nil fields are skipped.
type PeerEvents struct {
	// OnCandidate receives every local candidate as soon as it is gathered.
	OnCandidate func(c webrtc.ICECandidateInit)
	OnConnected func()
	// OnDisconnected reports a transient loss; ICE may still recover.
	OnDisconnected func()
	// OnFailed reports a connection that will not recover.
	OnFailed      func()
	OnICEFailed   func()
	OnRemoteTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// Peer wraps one pion PeerConnection for a 1:1 call.
type Peer struct {
	pc       *webrtc.PeerConnection
	remote   string
	log      logging.LeveledLogger
	events   PeerEvents
	dispatch *dispatcher

	mu            sync.Mutex
	remoteDescSet bool
	pending       CandidateBuffer
	senders       map[string]*webrtc.RTPSender
	tracks        map[string]media.Track
	closed        bool
}

func newPeer(pc *webrtc.PeerConnection, remote string, events PeerEvents, log logging.LeveledLogger) *Peer {
	p := &Peer{
		pc:       pc,
		remote:   remote,
		log:      log,
		events:   events,
		dispatch: newDispatcher(),
		senders:  make(map[string]*webrtc.RTPSender),
		tracks:   make(map[string]media.Track),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candidate := c.ToJSON()
		p.dispatch.push(func() {
			if p.events.OnCandidate != nil {
				p.events.OnCandidate(candidate)
			}
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Infof("[webrtc][%s] connection state changed: %s", p.remote, state)
		var fn func()
		switch state {
		case webrtc.PeerConnectionStateConnected:
			fn = p.events.OnConnected
		case webrtc.PeerConnectionStateDisconnected:
			fn = p.events.OnDisconnected
		case webrtc.PeerConnectionStateFailed:
			fn = p.events.OnFailed
		}
		if fn != nil {
			p.dispatch.push(fn)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.log.Debugf("[webrtc][%s] ice state changed: %s", p.remote, state)
		if state == webrtc.ICEConnectionStateFailed && p.events.OnICEFailed != nil {
			p.dispatch.push(p.events.OnICEFailed)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.log.Infof("[webrtc][%s] got remote track: %s (%s), SSRC: %d", p.remote, track.ID(), track.Kind(), track.SSRC())
		p.dispatch.push(func() {
			if p.events.OnRemoteTrack != nil {
				p.events.OnRemoteTrack(track, receiver)
			}
		})
	})

	return p
}

func (p *Peer) Remote() string { return p.remote }

// AddLocalTracks sends every track of stream. A video call whose stream
// carries no video still offers to receive the remote camera.
func (p *Peer) AddLocalTracks(stream *media.Stream, kind signal.MediaKind) error {
	for _, t := range stream.Tracks() {
		if err := p.AddTrack(t); err != nil {
			return err
		}
	}
	if kind == signal.MediaVideo && !stream.HasVideo() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return ErrPeerClosed
		}
		if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly video transceiver: %w", err)
		}
	}
	return nil
}

func (p *Peer) AddTrack(t media.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	sender, err := p.pc.AddTrack(t)
	if err != nil {
		p.log.Errorf("[webrtc][%s] add track %s err: %v", p.remote, t.ID(), err)
		return err
	}
	p.senders[t.ID()] = sender
	p.tracks[t.ID()] = t
	go p.readRTCP(sender, t.ID())
	return nil
}

// RemoveTrack stops sending trackID. The change reaches the remote with the
// next offer.
func (p *Peer) RemoveTrack(trackID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	sender, ok := p.senders[trackID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrack, trackID)
	}
	delete(p.senders, trackID)
	delete(p.tracks, trackID)
	return p.pc.RemoveTrack(sender)
}

// readRTCP keeps incoming RTCP flowing so the interceptors see it.
func (p *Peer) readRTCP(sender *webrtc.RTPSender, trackID string) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.log.Debugf("[webrtc][%s] rtcp read for %s stopped: %v", p.remote, trackID, err)
			}
			return
		}
	}
}

// SetTrackEnabled stops or resumes sending a track without renegotiating.
func (p *Peer) SetTrackEnabled(trackID string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	sender, ok := p.senders[trackID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrack, trackID)
	}
	if enabled {
		return sender.ReplaceTrack(p.tracks[trackID])
	}
	return sender.ReplaceTrack(nil)
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.createLocal("offer", func() (webrtc.SessionDescription, error) {
		return p.pc.CreateOffer(nil)
	})
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.createLocal("answer", func() (webrtc.SessionDescription, error) {
		return p.pc.CreateAnswer(nil)
	})
}

func (p *Peer) createLocal(what string, create func() (webrtc.SessionDescription, error)) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, ErrPeerClosed
	}
	sdp, err := create()
	if err != nil {
		p.log.Errorf("[webrtc][%s] cannot create %s: %v", p.remote, what, err)
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(sdp); err != nil {
		p.log.Errorf("[webrtc][%s] cannot set local %s: %v", p.remote, what, err)
		return webrtc.SessionDescription{}, err
	}
	return sdp, nil
}

// SetRemoteDescription applies sdp and then flushes every candidate that
// was waiting for it.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		p.log.Errorf("[webrtc][%s] cannot set remote %s: %v", p.remote, sdp.Type, err)
		return err
	}
	p.remoteDescSet = true

	n, err := p.pending.DrainInto(p.pc)
	if err != nil {
		p.log.Warnf("[webrtc][%s] some buffered candidates failed: %v", p.remote, err)
	}
	if n > 0 {
		p.log.Debugf("[webrtc][%s] applied %d buffered candidates", p.remote, n)
	}
	return nil
}

// AddICECandidate applies c, or buffers it until the remote description is
// known. A candidate the connection rejects is logged and dropped.
func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if !p.remoteDescSet {
		p.log.Debugf("[webrtc][%s] remote sdp not set yet, caching ice candidate", p.remote)
		p.pending.Push(c)
		return nil
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		p.log.Warnf("[webrtc][%s] cannot add ice candidate: %v", p.remote, err)
	}
	return nil
}

// Rollback discards a local offer that lost an offer collision.
func (p *Peer) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	return p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

// Close releases the connection. Later calls return nil.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pending.Clear()
	p.mu.Unlock()

	p.dispatch.stop()
	if err := p.pc.Close(); err != nil {
		p.log.Warnf("[webrtc][%s] close err: %v", p.remote, err)
		return err
	}
	return nil
}
