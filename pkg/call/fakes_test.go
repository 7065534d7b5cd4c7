package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/media/mediatest"
	"github.com/peterouob/pionCall/pkg/signal"
	wbc "github.com/peterouob/pionCall/pkg/webrtc"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

func quietLogger(scope string) logging.LeveledLogger {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	return lf.NewLogger(scope)
}

type fakeSignaler struct {
	mu        sync.Mutex
	sent      []signal.Signal
	connected bool
}

func (f *fakeSignaler) Send(_ context.Context, s signal.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeSignaler) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSignaler) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeSignaler) ofType(t signal.Type) []signal.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signal.Signal
	for _, s := range f.sent {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

type fakePeer struct {
	remote string
	events wbc.PeerEvents

	mu        sync.Mutex
	ops       []string
	enabled   map[string]bool
	closed    int
	signaling webrtc.SignalingState
	tracks    []media.Track

	addTrackErr error
	offerErr    error
}

func (p *fakePeer) record(op string) {
	p.ops = append(p.ops, op)
}

func (p *fakePeer) AddLocalTracks(stream *media.Stream, _ signal.MediaKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, stream.Tracks()...)
	p.record("tracks")
	return nil
}

func (p *fakePeer) AddTrack(t media.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addTrackErr != nil {
		return p.addTrackErr
	}
	p.tracks = append(p.tracks, t)
	p.record("track:" + t.Kind().String())
	return nil
}

func (p *fakePeer) RemoveTrack(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tracks {
		if t.ID() == id {
			p.tracks = append(p.tracks[:i], p.tracks[i+1:]...)
			p.record("untrack:" + t.Kind().String())
			return nil
		}
	}
	return wbc.ErrUnknownTrack
}

func (p *fakePeer) SetTrackEnabled(id string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled[id] = enabled
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	p.record("offer")
	p.signaling = webrtc.SignalingStateHaveLocalOffer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("answer")
	p.signaling = webrtc.SignalingStateStable
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("remote:" + sdp.Type.String())
	if sdp.Type == webrtc.SDPTypeOffer {
		p.signaling = webrtc.SignalingStateHaveRemoteOffer
	} else {
		p.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("cand:" + c.Candidate)
	return nil
}

func (p *fakePeer) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("rollback")
	p.signaling = webrtc.SignalingStateStable
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signaling
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) setFailures(addTrack, offer error) {
	p.mu.Lock()
	p.addTrackErr, p.offerErr = addTrack, offer
	p.mu.Unlock()
}

func (p *fakePeer) trackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

func (p *fakePeer) opLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) last(t EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return Event{}, false
}

type harness struct {
	t      *testing.T
	m      *Manager
	sig    *fakeSignaler
	dev    *mediatest.Device
	clock  *clock.Mock
	events *eventLog

	mu    sync.Mutex
	peers []*fakePeer
}

func newHarness(t *testing.T, self string) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		sig:    &fakeSignaler{connected: true},
		dev:    mediatest.NewDevice(),
		clock:  clock.NewMock(),
		events: &eventLog{},
	}
	h.m = New(self, DefaultConfig(), Deps{
		Signaler: h.sig,
		Media:    media.NewAcquirer(h.dev, quietLogger("media")),
		Peers:    h.newPeer,
		Clock:    h.clock,
		Log:      quietLogger("call"),
	})
	h.m.Subscribe(h.events.listen)
	return h
}

func (h *harness) newPeer(remote string, events wbc.PeerEvents) (Peer, error) {
	p := &fakePeer{remote: remote, events: events, enabled: make(map[string]bool)}
	h.mu.Lock()
	h.peers = append(h.peers, p)
	h.mu.Unlock()
	return p, nil
}

func (h *harness) peer() *fakePeer {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.peers) == 0 {
		h.t.Fatal("no peer connection created")
	}
	return h.peers[len(h.peers)-1]
}

// call brings the manager to Requesting with an outgoing call to bob.
func (h *harness) call(kind signal.MediaKind) signal.Signal {
	h.t.Helper()
	if err := h.m.Initiate(context.Background(), "bob", kind); err != nil {
		h.t.Fatalf("Initiate: %v", err)
	}
	sent := h.sig.ofType(signal.TypeCallInitiate)
	if len(sent) == 0 {
		h.t.Fatal("no call-initiate sent")
	}
	return sent[len(sent)-1]
}

// activate drives an outgoing call through accept and connect.
func (h *harness) activate(kind signal.MediaKind) signal.Signal {
	h.t.Helper()
	initiate := h.call(kind)
	h.m.HandleSignal(signal.Signal{
		Type:   signal.TypeCallAccepted,
		From:   "bob",
		CallID: initiate.CallID,
		SDP:    &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"},
	})
	h.peer().events.OnConnected()
	if got := h.m.State(); got != StateActive {
		h.t.Fatalf("state = %s, want active", got)
	}
	return initiate
}

func incomingCall(from, callID string, kind signal.MediaKind) signal.Signal {
	return signal.Signal{
		Type:      signal.TypeIncomingCall,
		From:      from,
		CallID:    callID,
		MediaKind: kind,
		SDP:       &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"},
		Caller:    &signal.CallerInfo{ID: from, Name: "Alice"},
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// gatedSource ignores cancellation, standing in for capture hardware that
// finishes opening after the caller has given up.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
	tracks  []*mediatest.Track
}

func (g *gatedSource) Acquire(context.Context, signal.MediaKind) (*media.Stream, error) {
	close(g.entered)
	<-g.release
	a, err := mediatest.NewTrack(webrtc.RTPCodecTypeAudio, "late-audio", "late")
	if err != nil {
		return nil, err
	}
	g.tracks = append(g.tracks, a)
	return media.NewStream("late", a), nil
}

func (g *gatedSource) AcquireVideoTrack(context.Context) (media.Track, error) {
	return nil, errors.New("not supported")
}
