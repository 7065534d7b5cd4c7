package wbc

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

type recordingSink struct {
	applied []string
	failOn  string
}

func (s *recordingSink) AddICECandidate(c webrtc.ICECandidateInit) error {
	if c.Candidate == s.failOn {
		return errors.New("rejected")
	}
	s.applied = append(s.applied, c.Candidate)
	return nil
}

func TestCandidateBufferDrainsInArrivalOrder(t *testing.T) {
	var b CandidateBuffer
	for _, c := range []string{"c1", "c2", "c3"} {
		b.Push(webrtc.ICECandidateInit{Candidate: c})
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d", b.Len())
	}

	sink := &recordingSink{}
	n, err := b.DrainInto(sink)
	if err != nil || n != 3 {
		t.Fatalf("DrainInto = %d, %v", n, err)
	}
	want := []string{"c1", "c2", "c3"}
	for i := range want {
		if sink.applied[i] != want[i] {
			t.Fatalf("applied = %v, want %v", sink.applied, want)
		}
	}

	n, err = b.DrainInto(sink)
	if n != 0 || err != nil || len(sink.applied) != 3 {
		t.Fatalf("second drain applied %d more", n)
	}
}

func TestCandidateBufferKeepsGoingAfterFailure(t *testing.T) {
	var b CandidateBuffer
	for _, c := range []string{"c1", "bad", "c3"} {
		b.Push(webrtc.ICECandidateInit{Candidate: c})
	}
	sink := &recordingSink{failOn: "bad"}
	n, err := b.DrainInto(sink)
	if n != 2 || err == nil {
		t.Fatalf("DrainInto = %d, %v", n, err)
	}
	if b.Len() != 0 {
		t.Fatal("buffer not emptied")
	}
}

func TestCandidateBufferClear(t *testing.T) {
	var b CandidateBuffer
	b.Push(webrtc.ICECandidateInit{Candidate: "c1"})
	b.Clear()
	sink := &recordingSink{}
	if n, _ := b.DrainInto(sink); n != 0 {
		t.Fatalf("drained %d after Clear", n)
	}
}
