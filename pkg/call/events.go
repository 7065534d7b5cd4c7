package call

import (
	"github.com/peterouob/pionCall/pkg/media"
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/webrtc/v4"
	"sync"
)

type EventType int

const (
	EventStateChanged EventType = iota
	EventIncomingCall
	EventCallAccepted
	EventCallRejected
	EventCallEnded
	EventPeerConnected
	EventPeerDisconnected
	EventRemoteTrack
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state-changed"
	case EventIncomingCall:
		return "incoming-call"
	case EventCallAccepted:
		return "call-accepted"
	case EventCallRejected:
		return "call-rejected"
	case EventCallEnded:
		return "call-ended"
	case EventPeerConnected:
		return "peer-connected"
	case EventPeerDisconnected:
		return "peer-disconnected"
	case EventRemoteTrack:
		return "remote-track"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to every subscriber. Fields beyond Type and Call are
// set only where meaningful: State for EventStateChanged, Caller for
// EventIncomingCall, Track for EventRemoteTrack, Err for failures and
// remote endings.
type Event struct {
	Type   EventType
	Call   signal.CallDescriptor
	State  State
	Caller *signal.CallerInfo
	Track  *webrtc.TrackRemote
	Err    error
}

type Listener func(Event)

// LocalSink displays the local preview. It receives the session stream once
// both are known and nil when the session ends.
type LocalSink interface {
	AttachStream(stream *media.Stream)
}

type subscription struct {
	id int
	fn Listener
}

type listeners struct {
	mu   sync.Mutex
	next int
	subs []subscription
}

func (l *listeners) add(fn Listener) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.subs = append(l.subs, subscription{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, s := range l.subs {
				if s.id == id {
					l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners) emit(ev Event) {
	l.mu.Lock()
	subs := append([]subscription(nil), l.subs...)
	l.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

// effects are side effects collected under the manager lock and run after
// it is released, so listeners may call back into the manager.
type effects []func()

func (fx *effects) add(fn func()) { *fx = append(*fx, fn) }

func (fx effects) run() {
	for _, fn := range fx {
		fn()
	}
}
