package call

import (
	"context"
	"fmt"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/signal"
	wbc "github.com/peterouob/pionCall/pkg/webrtc"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"
	"sync"
	"time"
)

type Config struct {
	// Cooldown is the minimum spacing between outgoing call attempts.
	Cooldown time.Duration
	// RequestTimeout ends an unanswered outgoing call. Zero disables it.
	RequestTimeout time.Duration
	SendTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown:       2 * time.Second,
		RequestTimeout: 30 * time.Second,
		SendTimeout:    5 * time.Second,
	}
}

type Deps struct {
	Signaler Signaler
	Media    MediaSource
	Peers    PeerFactory
	Clock    clock.Clock
	Log      logging.LeveledLogger
}

type session struct {
	desc     signal.CallDescriptor
	remote   string
	outgoing bool
	caller   *signal.CallerInfo

	ctx    context.Context
	cancel context.CancelFunc
	timer  *clock.Timer

	stream  *media.Stream
	peer    Peer
	pending wbc.CandidateBuffer

	accepting bool
	upgrading bool
	muted     bool
	videoOff  bool
}

// Manager runs the call state machine for one local identity. It holds at
// most one session; every transition happens under mu, and media capture is
// the only step that runs outside it.
type Manager struct {
	self      string
	cfg       Config
	sig       Signaler
	media     MediaSource
	peers     PeerFactory
	clock     clock.Clock
	log       logging.LeveledLogger
	listeners listeners

	mu      sync.Mutex
	state   State
	sess    *session
	limiter *rate.Limiter
	sink    LocalSink
}

func New(self string, cfg Config, deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Log == nil {
		deps.Log = logging.NewDefaultLoggerFactory().NewLogger("call")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}
	return &Manager{
		self:    self,
		cfg:     cfg,
		sig:     deps.Signaler,
		media:   deps.Media,
		peers:   deps.Peers,
		clock:   deps.Clock,
		log:     deps.Log,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Subscribe registers fn for every event. The returned func removes it and
// may be called more than once.
func (m *Manager) Subscribe(fn Listener) (unsubscribe func()) {
	return m.listeners.add(fn)
}

func (m *Manager) Self() string { return m.self }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Call returns the current call, if any.
func (m *Manager) Call() (signal.CallDescriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return signal.CallDescriptor{}, false
	}
	return m.sess.desc, true
}

func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.muted
}

func (m *Manager) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.stream != nil && m.sess.stream.HasVideo() && !m.sess.videoOff
}

// Initiate calls target. It fails fast with ErrSignalingUnavailable,
// ErrCallInProgress or ErrRateLimited without touching state; any later
// failure tears the attempt down and is reported once through EventError.
func (m *Manager) Initiate(ctx context.Context, target string, kind signal.MediaKind) error {
	if target == "" || target == m.self {
		return ErrInvalidTarget
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", signal.ErrInvalidMediaKind, kind)
	}

	var fx effects
	m.mu.Lock()
	if m.sig == nil || !m.sig.Connected() {
		m.mu.Unlock()
		return ErrSignalingUnavailable
	}
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	if !m.limiter.AllowN(m.clock.Now(), 1) {
		m.mu.Unlock()
		m.log.Warnf("[initiate] call to %s rate limited", target)
		return ErrRateLimited
	}
	s := m.newSessionLocked(signal.CallDescriptor{
		ID:        uuid.NewString(),
		Caller:    m.self,
		Callee:    target,
		MediaKind: kind,
		CreatedAt: m.clock.Now(),
	}, true)
	m.transitionLocked(&fx, StateRequesting)
	m.mu.Unlock()
	fx.run()

	stream, err := m.acquire(ctx, s, kind)

	fx = nil
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		m.log.Infof("[initiate] call to %s cancelled during media acquisition", target)
		return ErrCallCancelled
	}
	if err == nil {
		err = m.offerLocked(&fx, s, stream)
	}
	if err != nil {
		m.abortLocked(&fx, err, "")
	}
	m.mu.Unlock()
	fx.run()
	return err
}

func (m *Manager) offerLocked(fx *effects, s *session, stream *media.Stream) error {
	m.attachStreamLocked(fx, s, stream)
	if err := m.openPeerLocked(s); err != nil {
		return err
	}
	offer, err := s.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	s.desc.Offer = &offer
	if err := m.sendLocked(signal.Signal{
		Type:      signal.TypeCallInitiate,
		To:        s.remote,
		CallID:    s.desc.ID,
		MediaKind: s.desc.MediaKind,
		SDP:       &offer,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalingUnavailable, err)
	}
	if m.cfg.RequestTimeout > 0 {
		s.timer = m.clock.AfterFunc(m.cfg.RequestTimeout, func() { m.requestTimedOut(s) })
	}
	m.log.Infof("[initiate] sent %s call offer to %s", s.desc.MediaKind, s.remote)
	return nil
}

// AcceptIncoming answers the ringing call desc. It acquires media of the
// call's kind and is valid only while ringing.
func (m *Manager) AcceptIncoming(ctx context.Context, desc signal.CallDescriptor) error {
	m.mu.Lock()
	s := m.sess
	if m.state != StateRinging || s == nil || !sameCall(s.desc, desc) {
		m.mu.Unlock()
		return ErrInvalidState
	}
	if s.accepting {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	s.accepting = true
	kind := s.desc.MediaKind
	m.mu.Unlock()

	stream, err := m.acquire(ctx, s, kind)

	var fx effects
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		if stream != nil {
			stream.Stop()
		}
		m.log.Infof("[accept] call from %s went away during media acquisition", s.remote)
		return ErrCallCancelled
	}
	if err == nil {
		err = m.answerLocked(&fx, s, stream)
	}
	if err != nil {
		m.abortLocked(&fx, err, signal.TypeCallReject)
	}
	m.mu.Unlock()
	fx.run()
	return err
}

func (m *Manager) answerLocked(fx *effects, s *session, stream *media.Stream) error {
	m.attachStreamLocked(fx, s, stream)
	if err := m.openPeerLocked(s); err != nil {
		return err
	}
	if err := s.peer.SetRemoteDescription(*s.desc.Offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	if n, err := s.pending.DrainInto(s.peer); err != nil {
		m.log.Warnf("[accept] %d buffered candidates applied, some failed: %v", n, err)
	}
	answer, err := s.peer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := m.sendLocked(signal.Signal{
		Type:   signal.TypeCallAccept,
		To:     s.remote,
		CallID: s.desc.ID,
		SDP:    &answer,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalingUnavailable, err)
	}
	s.accepting = false
	s.desc.Accepted = true
	m.transitionLocked(fx, StateNegotiating)
	m.log.Infof("[accept] answered call from %s", s.remote)
	return nil
}

// RejectIncoming declines the ringing call from caller.
func (m *Manager) RejectIncoming(caller string) error {
	var fx effects
	m.mu.Lock()
	s := m.sess
	if m.state != StateRinging || s == nil || (caller != "" && caller != s.remote) {
		m.mu.Unlock()
		return ErrInvalidState
	}
	if err := m.sendLocked(signal.Signal{Type: signal.TypeCallReject, To: s.remote, CallID: s.desc.ID}); err != nil {
		m.log.Warnf("[reject] could not notify %s: %v", s.remote, err)
	}
	m.teardownLocked(&fx)
	m.mu.Unlock()
	fx.run()
	return nil
}

// End hangs up whatever call is in progress. Calling it while idle does
// nothing.
func (m *Manager) End() {
	var fx effects
	m.mu.Lock()
	s := m.sess
	if m.state == StateIdle || s == nil {
		m.mu.Unlock()
		return
	}
	if err := m.sendLocked(signal.Signal{Type: signal.TypeCallEnd, To: s.remote, CallID: s.desc.ID}); err != nil {
		m.log.Warnf("[end] could not notify %s: %v", s.remote, err)
	}
	desc := s.desc
	m.teardownLocked(&fx)
	m.notify(&fx, Event{Type: EventCallEnded, Call: desc})
	m.mu.Unlock()
	fx.run()
}

// Close ends the current call.
func (m *Manager) Close() error {
	m.End()
	return nil
}

// ToggleMute flips the microphone and returns whether it is now muted.
func (m *Manager) ToggleMute() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sess
	if s == nil || s.stream == nil {
		return false, ErrInvalidState
	}
	tracks := s.stream.AudioTracks()
	if len(tracks) == 0 {
		return s.muted, ErrNoAudioTrack
	}
	next := !s.muted
	if s.peer != nil {
		for _, t := range tracks {
			if err := s.peer.SetTrackEnabled(t.ID(), !next); err != nil {
				return s.muted, err
			}
		}
	}
	s.muted = next
	m.log.Infof("[media] microphone muted=%t", next)
	return next, nil
}

// ToggleVideo flips the camera and returns whether video is now sent. A
// call without a camera track acquires one and renegotiates.
func (m *Manager) ToggleVideo(ctx context.Context) (bool, error) {
	m.mu.Lock()
	s := m.sess
	if s == nil || s.stream == nil {
		m.mu.Unlock()
		return false, ErrInvalidState
	}
	if tracks := s.stream.VideoTracks(); len(tracks) > 0 {
		defer m.mu.Unlock()
		enable := s.videoOff
		if s.peer != nil {
			for _, t := range tracks {
				if err := s.peer.SetTrackEnabled(t.ID(), enable); err != nil {
					return !s.videoOff, err
				}
			}
		}
		s.videoOff = !enable
		m.log.Infof("[media] camera enabled=%t", enable)
		return enable, nil
	}
	if s.peer == nil || (m.state != StateNegotiating && m.state != StateActive) {
		m.mu.Unlock()
		return false, ErrInvalidState
	}
	if s.upgrading {
		m.mu.Unlock()
		return false, ErrCallInProgress
	}
	s.upgrading = true
	m.mu.Unlock()

	actx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	track, err := m.media.AcquireVideoTrack(actx)
	stop()
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s {
		if track != nil {
			_ = track.Close()
		}
		return false, ErrCallCancelled
	}
	s.upgrading = false
	if err != nil {
		m.log.Warnf("[media] video upgrade failed: %v", err)
		return false, err
	}
	if err := s.stream.AddTrack(track); err != nil {
		_ = track.Close()
		return false, err
	}
	if err := s.peer.AddTrack(track); err != nil {
		m.dropUpgradeLocked(s, track, false)
		return false, fmt.Errorf("add video track: %w", err)
	}
	if err := m.renegotiateLocked(s); err != nil {
		m.dropUpgradeLocked(s, track, true)
		return false, err
	}
	s.videoOff = false
	return true, nil
}

// dropUpgradeLocked undoes a video upgrade the remote never saw.
func (m *Manager) dropUpgradeLocked(s *session, track media.Track, onPeer bool) {
	if onPeer {
		if s.peer.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			if err := s.peer.Rollback(); err != nil {
				m.log.Warnf("[media] rollback after failed upgrade: %v", err)
			}
		}
		if err := s.peer.RemoveTrack(track.ID()); err != nil {
			m.log.Warnf("[media] remove video track: %v", err)
		}
	}
	s.stream.RemoveTrack(track.ID())
	_ = track.Close()
}

// SetLocalSink sets where the local preview is shown. The sink is told about
// the stream once, and again only after being replaced.
func (m *Manager) SetLocalSink(sink LocalSink) {
	var fx effects
	m.mu.Lock()
	if sink == m.sink {
		m.mu.Unlock()
		return
	}
	m.sink = sink
	if sink != nil && m.sess != nil && m.sess.stream != nil {
		stream := m.sess.stream
		fx.add(func() { sink.AttachStream(stream) })
	}
	m.mu.Unlock()
	fx.run()
}

func (m *Manager) acquire(ctx context.Context, s *session, kind signal.MediaKind) (*media.Stream, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	return m.media.Acquire(actx, kind)
}

func (m *Manager) newSessionLocked(desc signal.CallDescriptor, outgoing bool) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		desc:     desc,
		remote:   desc.Peer(m.self),
		outgoing: outgoing,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.sess = s
	return s
}

func (m *Manager) openPeerLocked(s *session) error {
	peer, err := m.peers(s.remote, m.peerEvents(s))
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	s.peer = peer
	if err := peer.AddLocalTracks(s.stream, s.desc.MediaKind); err != nil {
		return fmt.Errorf("attach local tracks: %w", err)
	}
	if s.muted {
		for _, t := range s.stream.AudioTracks() {
			_ = peer.SetTrackEnabled(t.ID(), false)
		}
	}
	if s.videoOff {
		for _, t := range s.stream.VideoTracks() {
			_ = peer.SetTrackEnabled(t.ID(), false)
		}
	}
	return nil
}

func (m *Manager) renegotiateLocked(s *session) error {
	offer, err := s.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create renegotiation offer: %w", err)
	}
	return m.sendLocked(signal.Signal{Type: signal.TypeCallRenegotiate, To: s.remote, CallID: s.desc.ID, SDP: &offer})
}

func (m *Manager) attachStreamLocked(fx *effects, s *session, stream *media.Stream) {
	s.stream = stream
	if sink := m.sink; sink != nil {
		fx.add(func() { sink.AttachStream(stream) })
	}
}

func (m *Manager) requestTimedOut(s *session) {
	var fx effects
	m.mu.Lock()
	if m.sess == s && m.state == StateRequesting {
		m.log.Infof("[initiate] %s did not answer", s.remote)
		m.abortLocked(&fx, ErrNoAnswer, signal.TypeCallEnd)
	}
	m.mu.Unlock()
	fx.run()
}

// abortLocked ends the session because of cause. farewell, when set, is sent
// to the remote first. Failures after the offer/answer exchange also count
// as the call ending.
func (m *Manager) abortLocked(fx *effects, cause error, farewell signal.Type) {
	s := m.sess
	if s == nil {
		return
	}
	if farewell != "" {
		if err := m.sendLocked(signal.Signal{Type: farewell, To: s.remote, CallID: s.desc.ID}); err != nil {
			m.log.Warnf("[call] could not send %s to %s: %v", farewell, s.remote, err)
		}
	}
	midCall := m.state == StateNegotiating || m.state == StateActive
	desc := s.desc
	m.log.Warnf("[call] call with %s failed in %s: %v", s.remote, m.state, cause)
	m.teardownLocked(fx)
	m.notify(fx, Event{Type: EventError, Call: desc, Err: cause})
	if midCall {
		m.notify(fx, Event{Type: EventCallEnded, Call: desc, Err: cause})
	}
}

// teardownLocked releases everything the session owns and returns to idle.
// It is the only way back to idle.
func (m *Manager) teardownLocked(fx *effects) {
	s := m.sess
	if s == nil {
		return
	}
	s.cancel()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending.Clear()
	if s.peer != nil {
		if err := s.peer.Close(); err != nil {
			m.log.Warnf("[call] close peer connection: %v", err)
		}
	}
	if s.stream != nil {
		s.stream.Stop()
		if sink := m.sink; sink != nil {
			fx.add(func() { sink.AttachStream(nil) })
		}
	}
	m.transitionLocked(fx, StateIdle)
	m.sess = nil
}

func (m *Manager) transitionLocked(fx *effects, next State) {
	prev := m.state
	if !prev.CanTransitionTo(next) {
		m.log.Errorf("[call] refusing transition %s -> %s", prev, next)
		return
	}
	m.state = next
	m.log.Infof("[call] %s -> %s", prev, next)
	var desc signal.CallDescriptor
	if m.sess != nil {
		desc = m.sess.desc
	}
	m.notify(fx, Event{Type: EventStateChanged, State: next, Call: desc})
}

func (m *Manager) notify(fx *effects, ev Event) {
	fx.add(func() { m.listeners.emit(ev) })
}

func (m *Manager) sendLocked(s signal.Signal) error {
	if m.sig == nil || !m.sig.Connected() {
		return ErrSignalingUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
	defer cancel()
	if err := m.sig.Send(ctx, s); err != nil {
		m.log.Warnf("[signal] send %s to %s err: %v", s.Type, s.To, err)
		return err
	}
	return nil
}

func (m *Manager) peerEvents(s *session) wbc.PeerEvents {
	return wbc.PeerEvents{
		OnCandidate:    func(c webrtc.ICECandidateInit) { m.onLocalCandidate(s, c) },
		OnConnected:    func() { m.onPeerConnected(s) },
		OnDisconnected: func() { m.onPeerDisconnected(s) },
		OnFailed:       func() { m.onPeerFailed(s, ErrPeerDisconnected) },
		OnICEFailed:    func() { m.onPeerFailed(s, ErrIceFailure) },
		OnRemoteTrack:  func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) { m.onRemoteTrack(s, t) },
	}
}

func sameCall(current, requested signal.CallDescriptor) bool {
	if requested.ID != "" {
		return requested.ID == current.ID
	}
	return requested.Caller == current.Caller
}
