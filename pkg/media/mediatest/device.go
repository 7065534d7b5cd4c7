// Package mediatest provides an in-memory capture device for tests.
package mediatest

import (
	"context"
	"fmt"
	"github.com/peterouob/pionCall/pkg/media"
	"github.com/pion/webrtc/v4"
	"sync"
	"sync/atomic"
)

// Track is a sample track that records whether it was closed.
type Track struct {
	*webrtc.TrackLocalStaticSample
	closed atomic.Bool
}

func NewTrack(kind webrtc.RTPCodecType, id, streamID string) (*Track, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	t, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Track{TrackLocalStaticSample: t}, nil
}

func (t *Track) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *Track) Closed() bool { return t.closed.Load() }

// Device hands out sample tracks. Fields may be set before first use.
type Device struct {
	AudioInputs int
	VideoInputs int
	// Fail, when set, is consulted before every capture attempt.
	Fail func(c media.Constraints) error
	// DropVideo makes video requests return audio tracks only.
	DropVideo bool
	// Block, when set, holds every capture until it is closed or ctx ends.
	Block chan struct{}
	// Entered receives once per capture attempt, if buffered space allows.
	Entered chan media.Constraints

	mu       sync.Mutex
	attempts []media.Constraints
	tracks   []*Track
	seq      int
}

func NewDevice() *Device {
	return &Device{AudioInputs: 1, VideoInputs: 1, Entered: make(chan media.Constraints, 16)}
}

func (d *Device) Enumerate(context.Context) ([]media.DeviceInfo, error) {
	var out []media.DeviceInfo
	for i := 0; i < d.AudioInputs; i++ {
		out = append(out, media.DeviceInfo{ID: fmt.Sprintf("mic%d", i), Label: "test microphone", Kind: webrtc.RTPCodecTypeAudio})
	}
	for i := 0; i < d.VideoInputs; i++ {
		out = append(out, media.DeviceInfo{ID: fmt.Sprintf("cam%d", i), Label: "test camera", Kind: webrtc.RTPCodecTypeVideo})
	}
	return out, nil
}

func (d *Device) GetUserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, c)
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	if d.Entered != nil {
		select {
		case d.Entered <- c:
		default:
		}
	}
	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Fail != nil {
		if err := d.Fail(c); err != nil {
			return nil, err
		}
	}

	streamID := fmt.Sprintf("stream%d", seq)
	var tracks []media.Track
	if c.Audio != nil {
		t, err := d.newTrack(webrtc.RTPCodecTypeAudio, fmt.Sprintf("audio%d", seq), streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video != nil && !d.DropVideo {
		t, err := d.newTrack(webrtc.RTPCodecTypeVideo, fmt.Sprintf("video%d", seq), streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return media.NewStream(streamID, tracks...), nil
}

func (d *Device) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (d *Device) newTrack(kind webrtc.RTPCodecType, id, streamID string) (*Track, error) {
	t, err := NewTrack(kind, id, streamID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.tracks = append(d.tracks, t)
	d.mu.Unlock()
	return t, nil
}

func (d *Device) Attempts() []media.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]media.Constraints(nil), d.attempts...)
}

// OpenTracks counts tracks handed out and not yet closed.
func (d *Device) OpenTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.tracks {
		if !t.Closed() {
			n++
		}
	}
	return n
}
