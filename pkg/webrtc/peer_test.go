package wbc

import (
	"errors"
	"testing"
	"time"

	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/media/mediatest"
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelDisabled
	// No ICE servers: host candidates only, loopback included.
	f, err := NewFactory(Config{IncludeLoopback: true}, mediatest.NewDevice(), lf)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return f
}

func audioStream(t *testing.T, id string) (*media.Stream, *mediatest.Track) {
	t.Helper()
	track, err := mediatest.NewTrack(webrtc.RTPCodecTypeAudio, id+"-audio", id)
	if err != nil {
		t.Fatal(err)
	}
	return media.NewStream(id, track), track
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(15 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPeersConnectWithBufferedCandidates(t *testing.T) {
	f := newTestFactory(t)

	var alice, bob *Peer
	aliceConnected := make(chan struct{}, 1)
	bobConnected := make(chan struct{}, 1)
	bobTrack := make(chan struct{}, 1)
	bobCandidates := make(chan webrtc.ICECandidateInit, 64)

	var err error
	alice, err = f.NewPeer("bob", PeerEvents{
		OnCandidate: func(c webrtc.ICECandidateInit) { bobCandidates <- c },
		OnConnected: func() { aliceConnected <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()

	bob, err = f.NewPeer("alice", PeerEvents{
		OnCandidate: func(c webrtc.ICECandidateInit) { _ = alice.AddICECandidate(c) },
		OnConnected: func() { bobConnected <- struct{}{} },
		OnRemoteTrack: func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
			select {
			case bobTrack <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	stream, track := audioStream(t, "alice")
	if err := alice.AddLocalTracks(stream, signal.MediaAudio); err != nil {
		t.Fatal(err)
	}
	offer, err := alice.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}

	// Let alice gather so bob receives candidates before the offer.
	var first webrtc.ICECandidateInit
	select {
	case first = <-bobCandidates:
	case <-time.After(10 * time.Second):
		t.Fatal("alice gathered no candidates")
	}
	if err := bob.AddICECandidate(first); err != nil {
		t.Fatal(err)
	}
	bob.mu.Lock()
	buffered := bob.pending.Len()
	bob.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("buffered = %d, want 1", buffered)
	}
	go func() {
		for c := range bobCandidates {
			_ = bob.AddICECandidate(c)
		}
	}()

	if err := bob.SetRemoteDescription(offer); err != nil {
		t.Fatal(err)
	}
	bob.mu.Lock()
	buffered = bob.pending.Len()
	bob.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("buffer not drained: %d", buffered)
	}

	bobStream, _ := audioStream(t, "bob")
	if err := bob.AddLocalTracks(bobStream, signal.MediaAudio); err != nil {
		t.Fatal(err)
	}
	answer, err := bob.CreateAnswer()
	if err != nil {
		t.Fatal(err)
	}
	if err := alice.SetRemoteDescription(answer); err != nil {
		t.Fatal(err)
	}

	waitSignal(t, aliceConnected, "alice connected")
	waitSignal(t, bobConnected, "bob connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = track.WriteSample(pmedia.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond})
			}
		}
	}()
	waitSignal(t, bobTrack, "remote track")

	if err := alice.SetTrackEnabled(track.ID(), false); err != nil {
		t.Fatalf("disable track: %v", err)
	}
	if err := alice.SetTrackEnabled(track.ID(), true); err != nil {
		t.Fatalf("enable track: %v", err)
	}
	if err := alice.SetTrackEnabled("missing", true); !errors.Is(err, ErrUnknownTrack) {
		t.Fatalf("unknown track err = %v", err)
	}
}

func TestVideoCallWithoutCameraOffersToReceiveVideo(t *testing.T) {
	f := newTestFactory(t)
	p, err := f.NewPeer("bob", PeerEvents{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	stream, _ := audioStream(t, "alice")
	if err := p.AddLocalTracks(stream, signal.MediaVideo); err != nil {
		t.Fatal(err)
	}
	var video int
	for _, tr := range p.pc.GetTransceivers() {
		if tr.Kind() == webrtc.RTPCodecTypeVideo && tr.Direction() == webrtc.RTPTransceiverDirectionRecvonly {
			video++
		}
	}
	if video != 1 {
		t.Fatalf("recvonly video transceivers = %d, want 1", video)
	}
}

func TestRemoveTrack(t *testing.T) {
	f := newTestFactory(t)
	p, err := f.NewPeer("bob", PeerEvents{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	video, err := mediatest.NewTrack(webrtc.RTPCodecTypeVideo, "cam", "local")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.AddTrack(video); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	if err := p.RemoveTrack("cam"); err != nil {
		t.Fatalf("RemoveTrack: %v", err)
	}
	if err := p.RemoveTrack("cam"); !errors.Is(err, ErrUnknownTrack) {
		t.Fatalf("second RemoveTrack = %v", err)
	}
	if err := p.SetTrackEnabled("cam", true); !errors.Is(err, ErrUnknownTrack) {
		t.Fatalf("SetTrackEnabled after remove = %v", err)
	}
	if _, err := p.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer after remove: %v", err)
	}

	_ = p.Close()
	if err := p.RemoveTrack("cam"); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("RemoveTrack after close = %v", err)
	}
}

func TestPeerCloseIsIdempotent(t *testing.T) {
	f := newTestFactory(t)
	p, err := f.NewPeer("bob", PeerEvents{})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	if err := p.AddICECandidate(webrtc.ICECandidateInit{Candidate: "x"}); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("AddICECandidate after close = %v", err)
	}
	if _, err := p.CreateOffer(); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("CreateOffer after close = %v", err)
	}
}

func TestDispatcherPreservesOrder(t *testing.T) {
	d := newDispatcher()
	defer d.stop()

	got := make(chan int, 100)
	for i := 0; i < 100; i++ {
		i := i
		d.push(func() { got <- i })
	}
	for want := 0; want < 100; want++ {
		select {
		case v := <-got:
			if v != want {
				t.Fatalf("got %d, want %d", v, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher stalled")
		}
	}
}
