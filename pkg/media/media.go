package media

import (
	"context"
	"github.com/pion/webrtc/v4"
)

// Track is a local track that can be bound to a peer connection and
// released when the call is over.
type Track interface {
	webrtc.TrackLocal
	Close() error
}

type DeviceInfo struct {
	ID    string
	Label string
	Kind  webrtc.RTPCodecType
}

type AudioConstraints struct {
	SampleRate   int
	ChannelCount int
}

type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate float64
	// RawOnly restricts capture to uncompressed frame formats.
	RawOnly bool
}

// Constraints describes one capture attempt. A nil section is not captured.
type Constraints struct {
	Label string
	Audio *AudioConstraints
	Video *VideoConstraints
}

// Device opens local capture hardware.
type Device interface {
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
	// RegisterCodecs populates the engine with the codecs the device encodes to.
	RegisterCodecs(me *webrtc.MediaEngine) error
}

var (
	videoLadder = []Constraints{
		{
			Label: "640x480@30 + processed audio",
			Audio: &AudioConstraints{SampleRate: 48000, ChannelCount: 1},
			Video: &VideoConstraints{Width: 640, Height: 480, FrameRate: 30, RawOnly: true},
		},
		{
			Label: "320x240 + audio",
			Audio: &AudioConstraints{SampleRate: 48000},
			Video: &VideoConstraints{Width: 320, Height: 240, RawOnly: true},
		},
		{
			Label: "any raw video + audio",
			Audio: &AudioConstraints{},
			Video: &VideoConstraints{RawOnly: true},
		},
		{
			Label: "any video + any audio",
			Audio: &AudioConstraints{},
			Video: &VideoConstraints{},
		},
	}

	audioLadder = []Constraints{
		{Label: "mono 48k audio", Audio: &AudioConstraints{SampleRate: 48000, ChannelCount: 1}},
		{Label: "48k audio", Audio: &AudioConstraints{SampleRate: 48000}},
		{Label: "any audio", Audio: &AudioConstraints{}},
	}
)

// VideoLadder returns the attempts used for a video call, strictest first.
func VideoLadder() []Constraints { return append([]Constraints(nil), videoLadder...) }

// AudioLadder returns the attempts used for audio, strictest first.
func AudioLadder() []Constraints { return append([]Constraints(nil), audioLadder...) }
