package call

import (
	"github.com/peterouob/pionCall/pkg/signal"
	"github.com/pion/webrtc/v4"
)

// HandleSignal applies one message from the relay. Messages that do not fit
// the current state or call are dropped.
func (m *Manager) HandleSignal(s signal.Signal) {
	var fx effects
	m.mu.Lock()
	switch s.Type {
	case signal.TypeIncomingCall:
		m.onIncomingCallLocked(&fx, s)
	case signal.TypeCallAccepted:
		m.onCallAcceptedLocked(&fx, s)
	case signal.TypeCallRejected:
		m.onCallRejectedLocked(&fx, s)
	case signal.TypeCallEnded:
		m.onCallEndedLocked(&fx, s)
	case signal.TypeICECandidate:
		m.onRemoteCandidateLocked(s)
	case signal.TypeCallError:
		m.onCallErrorLocked(&fx, s)
	case signal.TypeCallRenegotiate:
		m.onRenegotiateLocked(s)
	default:
		m.log.Debugf("[signal] ignoring %q", s.Type)
	}
	m.mu.Unlock()
	fx.run()
}

// matchesLocked reports whether s belongs to the current call. Relays fill
// From; CallID is compared when both sides know it.
func (m *Manager) matchesLocked(s signal.Signal) bool {
	sess := m.sess
	if sess == nil {
		return false
	}
	if s.From != "" && s.From != sess.remote {
		return false
	}
	if s.CallID != "" && sess.desc.ID != "" && s.CallID != sess.desc.ID {
		return false
	}
	return true
}

func (m *Manager) onIncomingCallLocked(fx *effects, s signal.Signal) {
	if s.From == "" || s.SDP == nil || !s.MediaKind.Valid() {
		m.log.Warnf("[incoming] malformed incoming call from %q", s.From)
		return
	}
	if m.state != StateIdle {
		if m.sess != nil && s.CallID != "" && s.CallID == m.sess.desc.ID {
			return
		}
		m.log.Infof("[incoming] busy, declining call from %s", s.From)
		if err := m.sendLocked(signal.Signal{Type: signal.TypeCallReject, To: s.From, CallID: s.CallID}); err != nil {
			m.log.Warnf("[incoming] could not decline %s: %v", s.From, err)
		}
		return
	}

	sess := m.newSessionLocked(signal.CallDescriptor{
		ID:        s.CallID,
		Caller:    s.From,
		Callee:    m.self,
		MediaKind: s.MediaKind,
		CreatedAt: m.clock.Now(),
		Offer:     s.SDP,
	}, false)
	sess.caller = s.Caller
	if sess.caller == nil {
		sess.caller = &signal.CallerInfo{ID: s.From}
	}
	m.transitionLocked(fx, StateRinging)
	m.notify(fx, Event{Type: EventIncomingCall, Call: sess.desc, Caller: sess.caller})
}

func (m *Manager) onCallAcceptedLocked(fx *effects, s signal.Signal) {
	if m.state != StateRequesting || !m.matchesLocked(s) {
		m.log.Debugf("[signal] stale call-accepted from %s in %s", s.From, m.state)
		return
	}
	sess := m.sess
	if sess.peer == nil || s.SDP == nil || s.SDP.Type != webrtc.SDPTypeAnswer {
		m.log.Warnf("[signal] call-accepted from %s without usable answer", s.From)
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	if err := sess.peer.SetRemoteDescription(*s.SDP); err != nil {
		m.abortLocked(fx, err, signal.TypeCallEnd)
		return
	}
	sess.desc.Accepted = true
	m.transitionLocked(fx, StateNegotiating)
	m.notify(fx, Event{Type: EventCallAccepted, Call: sess.desc})
}

func (m *Manager) onCallRejectedLocked(fx *effects, s signal.Signal) {
	if m.state != StateRequesting || !m.matchesLocked(s) {
		return
	}
	desc := m.sess.desc
	m.log.Infof("[signal] %s rejected the call", desc.Callee)
	m.teardownLocked(fx)
	m.notify(fx, Event{Type: EventCallRejected, Call: desc, Err: ErrRemoteRejected})
}

func (m *Manager) onCallEndedLocked(fx *effects, s signal.Signal) {
	if m.state == StateIdle || !m.matchesLocked(s) {
		return
	}
	desc := m.sess.desc
	m.log.Infof("[signal] %s ended the call", m.sess.remote)
	m.teardownLocked(fx)
	m.notify(fx, Event{Type: EventCallEnded, Call: desc, Err: ErrRemoteEnded})
}

func (m *Manager) onRemoteCandidateLocked(s signal.Signal) {
	if s.Candidate == nil || m.state == StateIdle || !m.matchesLocked(s) {
		return
	}
	sess := m.sess
	if sess.peer == nil {
		sess.pending.Push(*s.Candidate)
		return
	}
	if err := sess.peer.AddICECandidate(*s.Candidate); err != nil {
		m.log.Debugf("[signal] candidate from %s dropped: %v", s.From, err)
	}
}

func (m *Manager) onCallErrorLocked(fx *effects, s signal.Signal) {
	if m.state == StateIdle || !m.matchesLocked(s) {
		return
	}
	fatal := m.state == StateRequesting ||
		s.Code == signal.CodeUnreachable ||
		s.Code == signal.CodeNoSuchCall
	if m.state == StateRinging && !m.sess.accepting {
		fatal = false
	}
	cause := errorFromCode(s.Code, s.Message)
	if !fatal {
		m.log.Warnf("[signal] relay error in %s: %v", m.state, cause)
		return
	}
	m.abortLocked(fx, cause, "")
}

func (m *Manager) onRenegotiateLocked(s signal.Signal) {
	if (m.state != StateNegotiating && m.state != StateActive) || !m.matchesLocked(s) {
		return
	}
	sess := m.sess
	if sess.peer == nil || s.SDP == nil {
		return
	}
	switch s.SDP.Type {
	case webrtc.SDPTypeOffer:
		if sess.peer.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
			// Both sides offered at once: the greater identity yields.
			if m.self < sess.remote {
				m.log.Debugf("[renegotiate] ignoring colliding offer from %s", sess.remote)
				return
			}
			if err := sess.peer.Rollback(); err != nil {
				m.log.Warnf("[renegotiate] rollback failed: %v", err)
				return
			}
		}
		if err := sess.peer.SetRemoteDescription(*s.SDP); err != nil {
			m.log.Warnf("[renegotiate] apply offer from %s: %v", sess.remote, err)
			return
		}
		answer, err := sess.peer.CreateAnswer()
		if err != nil {
			m.log.Warnf("[renegotiate] create answer: %v", err)
			return
		}
		if err := m.sendLocked(signal.Signal{Type: signal.TypeCallRenegotiate, To: sess.remote, CallID: sess.desc.ID, SDP: &answer}); err != nil {
			m.log.Warnf("[renegotiate] send answer: %v", err)
		}
	case webrtc.SDPTypeAnswer:
		if sess.peer.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
			return
		}
		if err := sess.peer.SetRemoteDescription(*s.SDP); err != nil {
			m.log.Warnf("[renegotiate] apply answer from %s: %v", sess.remote, err)
		}
	}
}

func (m *Manager) onLocalCandidate(s *session, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s {
		return
	}
	if err := m.sendLocked(signal.Signal{Type: signal.TypeICECandidate, To: s.remote, CallID: s.desc.ID, Candidate: &c}); err != nil {
		m.log.Debugf("[ice] candidate to %s not sent: %v", s.remote, err)
	}
}

func (m *Manager) onPeerConnected(s *session) {
	var fx effects
	m.mu.Lock()
	if m.sess == s {
		switch m.state {
		case StateNegotiating:
			m.transitionLocked(&fx, StateActive)
			m.notify(&fx, Event{Type: EventPeerConnected, Call: s.desc})
		case StateActive:
			m.notify(&fx, Event{Type: EventPeerConnected, Call: s.desc})
		}
	}
	m.mu.Unlock()
	fx.run()
}

func (m *Manager) onPeerDisconnected(s *session) {
	var fx effects
	m.mu.Lock()
	if m.sess == s && (m.state == StateNegotiating || m.state == StateActive) {
		m.notify(&fx, Event{Type: EventPeerDisconnected, Call: s.desc})
	}
	m.mu.Unlock()
	fx.run()
}

func (m *Manager) onPeerFailed(s *session, cause error) {
	var fx effects
	m.mu.Lock()
	if m.sess == s && m.state != StateIdle {
		m.notify(&fx, Event{Type: EventPeerDisconnected, Call: s.desc, Err: cause})
		m.abortLocked(&fx, cause, signal.TypeCallEnd)
	}
	m.mu.Unlock()
	fx.run()
}

func (m *Manager) onRemoteTrack(s *session, t *webrtc.TrackRemote) {
	var fx effects
	m.mu.Lock()
	if m.sess == s {
		m.notify(&fx, Event{Type: EventRemoteTrack, Call: s.desc, Track: t})
	}
	m.mu.Unlock()
	fx.run()
}
