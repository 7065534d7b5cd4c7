package wbc

import (
	"errors"
	"github.com/pion/webrtc/v4"
)

type CandidateSink interface {
	AddICECandidate(c webrtc.ICECandidateInit) error
}

// CandidateBuffer holds remote candidates that arrived before the remote
// description. It is not safe for concurrent use; owners serialize access.
type CandidateBuffer struct {
	candidates []webrtc.ICECandidateInit
}

func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) {
	b.candidates = append(b.candidates, c)
}

func (b *CandidateBuffer) Len() int { return len(b.candidates) }

// DrainInto applies buffered candidates in arrival order and empties the
// buffer. A candidate that fails to apply does not stop the rest; the
// failures are returned joined.
func (b *CandidateBuffer) DrainInto(sink CandidateSink) (applied int, err error) {
	pending := b.candidates
	b.candidates = nil

	var errs []error
	for _, c := range pending {
		if e := sink.AddICECandidate(c); e != nil {
			errs = append(errs, e)
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

func (b *CandidateBuffer) Clear() {
	b.candidates = nil
}
