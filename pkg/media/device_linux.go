//go:build linux && cgo

package media

import (
	"context"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

const videoBitRate = 1_000_000

type captureDevice struct {
	selector *mediadevices.CodecSelector
	log      logging.LeveledLogger
}

// NewCaptureDevice opens V4L2 cameras and system microphones through
// pion/mediadevices, encoding to VP8 and Opus.
func NewCaptureDevice(log logging.LeveledLogger) (Device, error) {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("media")
	}
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &captureDevice{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: log,
	}, nil
}

func (d *captureDevice) RegisterCodecs(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

func (d *captureDevice) Enumerate(context.Context) ([]DeviceInfo, error) {
	var out []DeviceInfo
	for _, info := range mediadevices.EnumerateDevices() {
		di := DeviceInfo{ID: info.DeviceID, Label: info.Label}
		switch info.Kind {
		case mediadevices.AudioInput:
			di.Kind = webrtc.RTPCodecTypeAudio
		case mediadevices.VideoInput:
			di.Kind = webrtc.RTPCodecTypeVideo
		default:
			continue
		}
		out = append(out, di)
	}
	return out, nil
}

// GetUserMedia opens the tracks c asks for. mediadevices has no cancellation,
// so a capture that completes after ctx is done is closed in the background.
func (d *captureDevice) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video != nil {
		v := *c.Video
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			if v.RawOnly {
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
			}
			if v.Width > 0 {
				mc.Width = prop.Int(v.Width)
			}
			if v.Height > 0 {
				mc.Height = prop.Int(v.Height)
			}
			if v.FrameRate > 0 {
				mc.FrameRate = prop.Float(v.FrameRate)
			}
		}
	}
	if c.Audio != nil {
		a := *c.Audio
		constraints.Audio = func(mc *mediadevices.MediaTrackConstraints) {
			if a.SampleRate > 0 {
				mc.SampleRate = prop.Int(a.SampleRate)
			}
			if a.ChannelCount > 0 {
				mc.ChannelCount = prop.Int(a.ChannelCount)
			}
		}
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		done <- result{stream: s, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				closeTracks(r.stream)
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, classify(r.err)
		}
		var tracks []Track
		for _, t := range r.stream.GetTracks() {
			lt, ok := t.(Track)
			if !ok {
				d.log.Warnf("[device] track %s cannot be sent, closing", t.ID())
				_ = t.Close()
				continue
			}
			tracks = append(tracks, lt)
		}
		return NewStream(uuid.NewString(), tracks...), nil
	}
}

func closeTracks(s mediadevices.MediaStream) {
	for _, t := range s.GetTracks() {
		_ = t.Close()
	}
}
