package relay

import (
	"errors"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/logging"
)

// Router applies relay rules to signals from authenticated clients.
type Router struct {
	reg     *Registry
	metrics Collector
	clock   clock.Clock
	log     logging.LeveledLogger
}

func NewRouter(reg *Registry, metrics Collector, clk clock.Clock, log logging.LeveledLogger) *Router {
	if metrics == nil {
		metrics = NopCollector{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Router{reg: reg, metrics: metrics, clock: clk, log: log}
}

func (r *Router) Registry() *Registry { return r.reg }

// Connect registers h as the live connection for identity. A previous
// connection for the same identity stops receiving signals.
func (r *Router) Connect(identity string, info signal.CallerInfo, h Handle) {
	if info.ID == "" {
		info.ID = identity
	}
	if prev := r.reg.Register(identity, h, info); prev != nil {
		if prev != h {
			r.log.Infof("[relay][connect] %s replaced connection %s with %s", identity, prev.ID(), h.ID())
			prev.Close()
		}
		return
	}
	r.metrics.ClientConnected()
	r.log.Debugf("[relay][connect] %s on %s", identity, h.ID())
}

// Disconnect unregisters h and ends its calls, telling each counterpart.
func (r *Router) Disconnect(identity string, h Handle) {
	ended, ok := r.reg.Unregister(identity, h)
	if !ok {
		return
	}
	r.metrics.ClientDisconnected()
	for _, d := range ended {
		r.metrics.CallEnded(signal.TypeCallEnd)
		peer := d.Peer(identity)
		_ = r.deliver(peer, signal.Signal{Type: signal.TypeCallEnded, From: identity, CallID: d.ID})
		r.log.Infof("[relay][disconnect] ended call %s between %s and %s", d.ID, identity, peer)
	}
}

// Route handles one signal sent by from. Replies go back through the
// sender's own handle.
func (r *Router) Route(from string, s signal.Signal) {
	if err := s.Validate(); err != nil {
		r.reject(from, s, signal.CodeInvalidMessage, err.Error())
		return
	}
	if s.To == from {
		r.reject(from, s, signal.CodeInvalidMessage, "cannot signal yourself")
		return
	}
	s.From = from

	switch s.Type {
	case signal.TypeCallInitiate:
		r.initiate(from, s)
	case signal.TypeCallAccept:
		r.accept(from, s)
	case signal.TypeCallReject:
		if d, ok := r.reg.EndCall(from, s.To, s.CallID); ok {
			r.metrics.CallEnded(signal.TypeCallReject)
			r.forward(s.To, signal.Signal{Type: signal.TypeCallRejected, From: from, CallID: d.ID})
		}
	case signal.TypeCallEnd:
		r.end(from, s)
	case signal.TypeICECandidate:
		d, ok := r.reg.ActiveBetween(from, s.To)
		if !ok {
			r.log.Debugf("[relay][candidate] dropped %s -> %s: no call", from, s.To)
			return
		}
		out := signal.Signal{Type: signal.TypeICECandidate, From: from, CallID: d.ID, Candidate: s.Candidate}
		if err := r.deliver(s.To, out); errors.Is(err, ErrUnreachable) {
			r.reject(from, s, signal.CodeUnreachable, s.To+" is not connected")
		}
	case signal.TypeCallRenegotiate:
		d, ok := r.reg.ActiveBetween(from, s.To)
		if !ok || !d.Accepted {
			r.reject(from, s, signal.CodeNoSuchCall, "no active call with "+s.To)
			return
		}
		r.forward(s.To, signal.Signal{Type: signal.TypeCallRenegotiate, From: from, CallID: d.ID, SDP: s.SDP})
	}
}

func (r *Router) initiate(from string, s signal.Signal) {
	desc := signal.CallDescriptor{
		ID:        s.CallID,
		Caller:    from,
		Callee:    s.To,
		MediaKind: s.MediaKind,
		CreatedAt: r.clock.Now(),
		Offer:     s.SDP,
	}
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}
	switch err := r.reg.BeginCall(desc); {
	case errors.Is(err, ErrUnreachable):
		r.reject(from, s, signal.CodeUnreachable, s.To+" is not connected")
		return
	case errors.Is(err, ErrCallInProgress):
		r.reject(from, s, signal.CodeCallInProgress, "a participant is already in a call")
		return
	case err != nil:
		r.log.Warnf("[relay][initiate] %s -> %s: %v", from, s.To, err)
		return
	}
	info, _ := r.reg.Profile(from)
	if info.ID == "" {
		info.ID = from
	}
	out := signal.Signal{
		Type:      signal.TypeIncomingCall,
		From:      from,
		CallID:    desc.ID,
		MediaKind: desc.MediaKind,
		SDP:       desc.Offer,
		Caller:    &info,
	}
	if err := r.deliver(s.To, out); err != nil {
		r.reg.EndCall(from, s.To, desc.ID)
		r.reject(from, s, signal.CodeUnreachable, s.To+" is not connected")
		return
	}
	r.metrics.CallStarted(desc.MediaKind)
	r.log.Infof("[relay][initiate] %s calling %s (%s, %s)", from, s.To, desc.MediaKind, desc.ID)
}

func (r *Router) accept(from string, s signal.Signal) {
	d, err := r.reg.AcceptCall(from, s.To, s.CallID)
	if err != nil {
		r.reject(from, s, signal.CodeNoSuchCall, "no pending call from "+s.To)
		return
	}
	r.forward(s.To, signal.Signal{Type: signal.TypeCallAccepted, From: from, CallID: d.ID, SDP: s.SDP})
}

func (r *Router) end(from string, s signal.Signal) {
	var ended []signal.CallDescriptor
	if s.To != "" {
		if d, ok := r.reg.EndCall(from, s.To, s.CallID); ok {
			ended = append(ended, d)
		}
	} else {
		ended = r.reg.EndAll(from)
	}
	for _, d := range ended {
		r.metrics.CallEnded(signal.TypeCallEnd)
		r.forward(d.Peer(from), signal.Signal{Type: signal.TypeCallEnded, From: from, CallID: d.ID})
	}
}

// forward delivers s and logs instead of replying when the recipient has
// gone; its disconnect already ended the call.
func (r *Router) forward(to string, s signal.Signal) {
	if err := r.deliver(to, s); err != nil {
		r.log.Debugf("[relay][%s] %s -> %s: %v", s.Type, s.From, to, err)
	}
}

func (r *Router) deliver(to string, s signal.Signal) error {
	h, ok := r.reg.Lookup(to)
	if !ok {
		return ErrUnreachable
	}
	if err := h.Send(s); err != nil {
		return err
	}
	r.metrics.MessageRouted(s.Type)
	return nil
}

func (r *Router) reject(from string, s signal.Signal, code, message string) {
	r.metrics.MessageRejected(s.Type, code)
	reply := signal.Error(code, message)
	reply.From = s.To
	reply.CallID = s.CallID
	if h, ok := r.reg.Lookup(from); ok {
		_ = h.Send(reply)
	}
	r.log.Debugf("[relay][%s] rejected from %s: %s", s.Type, from, code)
}

// Reject sends a call-error to identity for a signal that never reached
// the router, such as one dropped by rate limiting.
func (r *Router) Reject(identity string, s signal.Signal, code, message string) {
	r.reject(identity, s, code, message)
}
