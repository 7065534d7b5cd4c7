package media

import (
	"errors"
	"github.com/pion/webrtc/v4"
	"sync"
)

var ErrStreamStopped = errors.New("media stream already stopped")

// Stream groups the local tracks of one session. Once stopped it cannot be
// reused.
type Stream struct {
	id string

	mu      sync.Mutex
	tracks  []Track
	stopped bool
}

func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []Track { return s.byKind(webrtc.RTPCodecTypeAudio) }

func (s *Stream) VideoTracks() []Track { return s.byKind(webrtc.RTPCodecTypeVideo) }

func (s *Stream) HasAudio() bool { return len(s.AudioTracks()) > 0 }

func (s *Stream) HasVideo() bool { return len(s.VideoTracks()) > 0 }

func (s *Stream) byKind(kind webrtc.RTPCodecType) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func (s *Stream) AddTrack(t Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStreamStopped
	}
	s.tracks = append(s.tracks, t)
	return nil
}

// RemoveTrack drops the track with id from the stream without closing it.
func (s *Stream) RemoveTrack(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t.ID() == id {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return true
		}
	}
	return false
}

// Stop closes every track. Calling it again does nothing.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	tracks := s.tracks
	s.mu.Unlock()

	for _, t := range tracks {
		_ = t.Close()
	}
}

func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
