package media_test

import (
	"errors"
	"testing"

	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/media/mediatest"
	"github.com/pion/webrtc/v4"
)

func TestStreamStopIsIdempotent(t *testing.T) {
	audio, err := mediatest.NewTrack(webrtc.RTPCodecTypeAudio, "a", "s")
	if err != nil {
		t.Fatal(err)
	}
	video, err := mediatest.NewTrack(webrtc.RTPCodecTypeVideo, "v", "s")
	if err != nil {
		t.Fatal(err)
	}
	s := media.NewStream("s", audio, video)
	if len(s.AudioTracks()) != 1 || len(s.VideoTracks()) != 1 {
		t.Fatalf("tracks by kind mismatch")
	}

	s.Stop()
	s.Stop()
	if !audio.Closed() || !video.Closed() || !s.Stopped() {
		t.Fatal("tracks not closed")
	}

	extra, _ := mediatest.NewTrack(webrtc.RTPCodecTypeVideo, "v2", "s")
	if err := s.AddTrack(extra); !errors.Is(err, media.ErrStreamStopped) {
		t.Fatalf("AddTrack after Stop = %v", err)
	}
}

func TestStreamRemoveTrackKeepsTrackOpen(t *testing.T) {
	audio, _ := mediatest.NewTrack(webrtc.RTPCodecTypeAudio, "a", "s")
	video, _ := mediatest.NewTrack(webrtc.RTPCodecTypeVideo, "v", "s")
	s := media.NewStream("s", audio, video)

	if !s.RemoveTrack("v") {
		t.Fatal("RemoveTrack reported missing track")
	}
	if s.HasVideo() || !s.HasAudio() {
		t.Fatalf("tracks = %v", s.Tracks())
	}
	if video.Closed() {
		t.Fatal("removed track was closed")
	}
	if s.RemoveTrack("v") {
		t.Fatal("second RemoveTrack succeeded")
	}
}
