package media

import (
	"context"
	"fmt"
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Acquirer opens local media for a call, walking down from the strictest
// capture constraints until one attempt yields the tracks the call needs.
type Acquirer struct {
	device Device
	log    logging.LeveledLogger
}

func NewAcquirer(device Device, log logging.LeveledLogger) *Acquirer {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("media")
	}
	return &Acquirer{device: device, log: log}
}

// Acquire returns a stream for kind. A video request that cannot get both a
// camera and a microphone degrades to an audio-only stream; only when no
// audio can be captured at all does it fail with ErrMediaUnavailable, wrapping
// the classified cause of the last attempt.
func (a *Acquirer) Acquire(ctx context.Context, kind signal.MediaKind) (*Stream, error) {
	audioIn, videoIn, err := a.inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, classify(err))
	}
	if audioIn == 0 {
		a.log.Warn("[acquire] no audio input device")
		return nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, ErrDeviceNotFound)
	}

	if kind == signal.MediaVideo {
		if videoIn == 0 {
			a.log.Warn("[acquire] no camera found, continuing with audio only")
		} else {
			stream, err := a.climb(ctx, videoLadder, func(s *Stream) bool {
				return s.HasAudio() && s.HasVideo()
			})
			if err == nil {
				return stream, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.log.Warnf("[acquire] video capture failed, continuing with audio only: %v", err)
		}
	}

	stream, err := a.climb(ctx, audioLadder, (*Stream).HasAudio)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	return stream, nil
}

// AcquireVideoTrack opens a camera alone, for adding video to a call that
// started without it.
func (a *Acquirer) AcquireVideoTrack(ctx context.Context) (Track, error) {
	ladder := make([]Constraints, 0, len(videoLadder))
	for _, c := range videoLadder {
		ladder = append(ladder, Constraints{Label: c.Label, Video: c.Video})
	}
	stream, err := a.climb(ctx, ladder, (*Stream).HasVideo)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	return stream.VideoTracks()[0], nil
}

func (a *Acquirer) inventory(ctx context.Context) (audio, video int, err error) {
	devices, err := a.device.Enumerate(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range devices {
		a.log.Debugf("[acquire] device kind=%s label=%q", d.Kind, d.Label)
		switch d.Kind {
		case webrtc.RTPCodecTypeAudio:
			audio++
		case webrtc.RTPCodecTypeVideo:
			video++
		}
	}
	return audio, video, nil
}

func (a *Acquirer) climb(ctx context.Context, ladder []Constraints, accept func(*Stream) bool) (*Stream, error) {
	var last error = ErrConstraintsUnsatisfiable
	for _, c := range ladder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := a.device.GetUserMedia(ctx, c)
		if err != nil {
			last = classify(err)
			a.log.Debugf("[acquire] %s failed: %v", c.Label, err)
			continue
		}
		if !accept(stream) {
			stream.Stop()
			last = fmt.Errorf("%w: %s returned incomplete tracks", ErrConstraintsUnsatisfiable, c.Label)
			a.log.Debugf("[acquire] %s returned incomplete tracks", c.Label)
			continue
		}
		a.log.Infof("[acquire] captured with %s", c.Label)
		return stream, nil
	}
	return nil, last
}
