package relay

import (
	"errors"
	"github.com/peterouob/pionCall/pkg/signal"
	"sort"
)

var (
	ErrUnreachable    = errors.New("recipient not connected")
	ErrCallInProgress = errors.New("participant already in a call")
	ErrNoSuchCall     = errors.New("no such call")
	ErrClosed         = errors.New("registry closed")
)

// Handle delivers signals to one connected client. Close drops the
// underlying connection and must be safe to call more than once.
type Handle interface {
	ID() string
	Send(s signal.Signal) error
	Close()
}

type client struct {
	handle Handle
	info   signal.CallerInfo
}

// Registry tracks connected identities and their calls. All state is owned
// by one goroutine; every method is a request to it, so operations are
// linearized without locks.
type Registry struct {
	ops     chan func()
	stop    chan struct{}
	stopped chan struct{}

	clients    map[string]client
	calls      map[string]*signal.CallDescriptor
	byIdentity map[string]string
}

func NewRegistry() *Registry {
	r := &Registry{
		ops:        make(chan func()),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		clients:    make(map[string]client),
		calls:      make(map[string]*signal.CallDescriptor),
		byIdentity: make(map[string]string),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	defer close(r.stopped)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) Close() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.stopped
}

func (r *Registry) do(fn func()) error {
	done := make(chan struct{})
	select {
	case r.ops <- func() { fn(); close(done) }:
	case <-r.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrClosed
	}
}

// Register binds identity to h and returns the handle it replaced, if any.
func (r *Registry) Register(identity string, h Handle, info signal.CallerInfo) (prev Handle) {
	_ = r.do(func() {
		if old, ok := r.clients[identity]; ok {
			prev = old.handle
		}
		r.clients[identity] = client{handle: h, info: info}
	})
	return prev
}

// Unregister removes identity if h is still its current handle and ends
// every call it was part of.
func (r *Registry) Unregister(identity string, h Handle) (ended []signal.CallDescriptor, ok bool) {
	_ = r.do(func() {
		cur, found := r.clients[identity]
		if !found || cur.handle != h {
			return
		}
		delete(r.clients, identity)
		ok = true
		ended = r.endAll(identity)
	})
	return ended, ok
}

func (r *Registry) Lookup(identity string) (h Handle, ok bool) {
	_ = r.do(func() {
		var c client
		c, ok = r.clients[identity]
		h = c.handle
	})
	return h, ok
}

func (r *Registry) Profile(identity string) (info signal.CallerInfo, ok bool) {
	_ = r.do(func() {
		var c client
		c, ok = r.clients[identity]
		info = c.info
	})
	return info, ok
}

// FindActiveCall returns the call identity is part of.
func (r *Registry) FindActiveCall(identity string) (desc signal.CallDescriptor, ok bool) {
	_ = r.do(func() {
		if key, found := r.byIdentity[identity]; found {
			desc, ok = *r.calls[key], true
		}
	})
	return desc, ok
}

// BeginCall records a new call. The callee must be connected and neither
// side may already be in a call.
func (r *Registry) BeginCall(desc signal.CallDescriptor) error {
	var err error
	if e := r.do(func() {
		if _, ok := r.clients[desc.Callee]; !ok {
			err = ErrUnreachable
			return
		}
		for _, id := range []string{desc.Caller, desc.Callee} {
			if _, busy := r.byIdentity[id]; busy {
				err = ErrCallInProgress
				return
			}
		}
		d := desc
		key := d.Key()
		r.calls[key] = &d
		r.byIdentity[d.Caller] = key
		r.byIdentity[d.Callee] = key
	}); e != nil {
		return e
	}
	return err
}

// AcceptCall marks the call from caller as answered by callee.
func (r *Registry) AcceptCall(callee, caller, callID string) (desc signal.CallDescriptor, err error) {
	if e := r.do(func() {
		d, ok := r.calls[signal.PairKey(callee, caller)]
		if !ok || d.Callee != callee || (callID != "" && callID != d.ID) {
			err = ErrNoSuchCall
			return
		}
		d.Accepted = true
		desc = *d
	}); e != nil {
		return desc, e
	}
	return desc, err
}

// ActiveBetween returns the call between a and b, if there is one.
func (r *Registry) ActiveBetween(a, b string) (desc signal.CallDescriptor, ok bool) {
	_ = r.do(func() {
		var d *signal.CallDescriptor
		if d, ok = r.calls[signal.PairKey(a, b)]; ok {
			desc = *d
		}
	})
	return desc, ok
}

// EndCall removes the call between a and b. An empty callID matches any.
func (r *Registry) EndCall(a, b, callID string) (desc signal.CallDescriptor, ok bool) {
	_ = r.do(func() {
		key := signal.PairKey(a, b)
		d, found := r.calls[key]
		if !found || (callID != "" && callID != d.ID) {
			return
		}
		r.remove(key)
		desc, ok = *d, true
	})
	return desc, ok
}

// EndAll removes every call identity is part of.
func (r *Registry) EndAll(identity string) (ended []signal.CallDescriptor) {
	_ = r.do(func() { ended = r.endAll(identity) })
	return ended
}

func (r *Registry) endAll(identity string) []signal.CallDescriptor {
	key, ok := r.byIdentity[identity]
	if !ok {
		return nil
	}
	d := *r.calls[key]
	r.remove(key)
	return []signal.CallDescriptor{d}
}

func (r *Registry) remove(key string) {
	d, ok := r.calls[key]
	if !ok {
		return
	}
	delete(r.calls, key)
	delete(r.byIdentity, d.Caller)
	delete(r.byIdentity, d.Callee)
}

// Calls lists live calls, oldest first.
func (r *Registry) Calls() []signal.CallDescriptor {
	var out []signal.CallDescriptor
	_ = r.do(func() {
		for _, d := range r.calls {
			out = append(out, *d)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) Clients() (n int) {
	_ = r.do(func() { n = len(r.clients) })
	return n
}
