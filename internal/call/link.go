package call

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/relay"
)

// Signaler delivers signaling messages to a remote participant.
type Signaler interface {
	Send(ctx context.Context, kind relay.Kind, from, to string, payload []byte) (relay.Message, error)
}

type linkReport struct {
	link  *Link
	state State
	err   error
}

// Link is the negotiation and connection state for one remote participant.
// Every operation, including transport callbacks, runs on the link's own
// goroutine in the order it was queued.
type Link struct {
	self    string
	remote  string
	role    Role
	tr      Transport
	sig     Signaler
	log     *slog.Logger
	reports chan<- linkReport

	ctx       context.Context
	cancel    context.CancelFunc
	ops       *opQueue
	done      chan struct{}
	closeOnce sync.Once
	current   atomic.Int32

	// Owned by the run goroutine.
	state       State
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	localOffer  bool
	negotiated  bool
	transportUp bool
	reoffer     bool
}

func newLink(ctx context.Context, self, remote string, role Role, tr Transport, sig Signaler, reports chan<- linkReport, logger *slog.Logger) *Link {
	ctx, cancel := context.WithCancel(ctx)
	l := &Link{
		self:    self,
		remote:  remote,
		role:    role,
		tr:      tr,
		sig:     sig,
		log:     logger.With("remote", remote, "role", role.String()),
		reports: reports,
		ctx:     ctx,
		cancel:  cancel,
		ops:     newOpQueue(),
		done:    make(chan struct{}),
	}

	tr.OnICECandidate(func(c webrtc.ICECandidateInit) {
		l.ops.push(func() { l.sendCandidate(c) })
	})
	tr.OnStateChange(func(s webrtc.ICEConnectionState) {
		l.ops.push(func() { l.onTransportState(s) })
	})

	go l.run()
	return l
}

func (l *Link) run() {
	defer close(l.done)
	for {
		op, ok := l.ops.next(l.ctx)
		if !ok {
			return
		}
		op()
	}
}

func (l *Link) Remote() string { return l.remote }

func (l *Link) Role() Role { return l.role }

func (l *Link) State() State { return State(l.current.Load()) }

// polite is the side that yields when both sides offer at once.
func (l *Link) polite() bool { return l.self > l.remote }

// Call adds the local tracks and sends the first offer.
func (l *Link) Call(tracks []webrtc.TrackLocal) {
	l.ops.push(func() {
		if l.addTracks(tracks) {
			l.offer()
		}
	})
}

// Accept adds the local tracks so the coming answer carries them.
func (l *Link) Accept(tracks []webrtc.TrackLocal) {
	l.ops.push(func() { l.addTracks(tracks) })
}

func (l *Link) HandleOffer(payload []byte) {
	l.ops.push(func() { l.handleOffer(payload) })
}

func (l *Link) HandleAnswer(payload []byte) {
	l.ops.push(func() { l.handleAnswer(payload) })
}

func (l *Link) HandleCandidate(payload []byte) {
	l.ops.push(func() { l.handleCandidate(payload) })
}

// Renegotiate adds tracks that appeared after the link was set up and
// offers again.
func (l *Link) Renegotiate(tracks []webrtc.TrackLocal) {
	l.ops.push(func() {
		if l.state.Ended() {
			return
		}
		if l.addTracks(tracks) {
			l.offer()
		}
	})
}

// Close stops the link and its transport. Queued operations are dropped.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.cancel()
		l.ops.close()
		<-l.done
		if err := l.tr.Close(); err != nil {
			l.log.Debug("transport close", "err", err)
		}
		l.current.Store(int32(StateClosed))
	})
}

func (l *Link) addTracks(tracks []webrtc.TrackLocal) bool {
	for _, t := range tracks {
		if err := l.tr.AddTrack(t); err != nil {
			l.fail(callerr.KindMedia, "add track", err)
			return false
		}
	}
	return true
}

func (l *Link) offer() {
	if l.state.Ended() {
		return
	}
	if l.localOffer {
		l.reoffer = true
		return
	}

	desc, err := l.tr.CreateOffer()
	if err != nil {
		l.fail(callerr.KindNegotiation, "create offer", err)
		return
	}
	if err := l.tr.SetLocalDescription(desc); err != nil {
		l.fail(callerr.KindNegotiation, "set local description", err)
		return
	}
	l.localOffer = true
	l.negotiated = false

	if l.send(relay.KindOffer, desc) {
		l.setState(StateNegotiating, nil)
	}
}

func (l *Link) handleOffer(payload []byte) {
	if l.state.Ended() {
		return
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		l.fail(callerr.KindNegotiation, "decode offer", err)
		return
	}
	if desc.Type != webrtc.SDPTypeOffer {
		l.fail(callerr.KindNegotiation, "handle offer", callerr.ErrUnexpectedSignal)
		return
	}

	if l.localOffer {
		if !l.polite() {
			l.log.Warn("ignoring colliding offer", "err", callerr.ErrGlareIgnored)
			return
		}
		if err := l.tr.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			l.fail(callerr.KindNegotiation, "rollback", err)
			return
		}
		l.localOffer = false
		l.reoffer = true
	}

	if err := l.tr.SetRemoteDescription(desc); err != nil {
		l.fail(callerr.KindNegotiation, "set remote description", err)
		return
	}
	l.remoteSet = true
	if !l.flush() {
		return
	}

	answer, err := l.tr.CreateAnswer()
	if err != nil {
		l.fail(callerr.KindNegotiation, "create answer", err)
		return
	}
	if err := l.tr.SetLocalDescription(answer); err != nil {
		l.fail(callerr.KindNegotiation, "set local description", err)
		return
	}
	l.negotiated = false
	if !l.send(relay.KindAnswer, answer) {
		return
	}
	l.setState(StateNegotiating, nil)

	l.negotiated = true
	l.maybeConnected()
	l.afterStable()
}

func (l *Link) handleAnswer(payload []byte) {
	if l.state.Ended() {
		return
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		l.fail(callerr.KindNegotiation, "decode answer", err)
		return
	}
	if desc.Type != webrtc.SDPTypeAnswer || !l.localOffer {
		l.log.Warn("dropping unexpected answer", "err", callerr.ErrUnexpectedSignal)
		return
	}

	if err := l.tr.SetRemoteDescription(desc); err != nil {
		l.fail(callerr.KindNegotiation, "set remote description", err)
		return
	}
	l.localOffer = false
	l.remoteSet = true
	if !l.flush() {
		return
	}

	l.negotiated = true
	l.maybeConnected()
	l.afterStable()
}

func (l *Link) handleCandidate(payload []byte) {
	if l.state.Ended() {
		return
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &c); err != nil {
		l.fail(callerr.KindNegotiation, "decode candidate", err)
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return
	}
	if err := l.tr.AddICECandidate(c); err != nil {
		l.fail(callerr.KindNegotiation, "add candidate", err)
	}
}

// flush applies candidates that arrived before the remote description, in
// the order they arrived.
func (l *Link) flush() bool {
	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if err := l.tr.AddICECandidate(c); err != nil {
			l.fail(callerr.KindNegotiation, "add buffered candidate", err)
			return false
		}
	}
	return true
}

func (l *Link) afterStable() {
	if l.reoffer && !l.localOffer {
		l.reoffer = false
		l.offer()
	}
}

func (l *Link) sendCandidate(c webrtc.ICECandidateInit) {
	if l.state.Ended() {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		logging.Failure(l.log, "encode candidate", l.remote, err)
		return
	}
	// A lost candidate degrades connectivity but does not end negotiation.
	if _, err := l.sig.Send(l.ctx, relay.KindCandidate, l.self, l.remote, payload); err != nil && l.ctx.Err() == nil {
		logging.Failure(l.log, "send candidate", l.remote, err)
	}
}

func (l *Link) send(kind relay.Kind, desc webrtc.SessionDescription) bool {
	payload, err := json.Marshal(desc)
	if err != nil {
		l.fail(callerr.KindNegotiation, "encode "+string(kind), err)
		return false
	}
	if _, err := l.sig.Send(l.ctx, kind, l.self, l.remote, payload); err != nil {
		l.fail(callerr.KindRelay, "send "+string(kind), err)
		return false
	}
	return true
}

func (l *Link) onTransportState(s webrtc.ICEConnectionState) {
	l.log.Debug("transport state", "state", s.String())
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		l.transportUp = true
		l.maybeConnected()
	case webrtc.ICEConnectionStateDisconnected:
		l.transportUp = false
		if !l.state.Ended() {
			l.setState(StateDisconnected, nil)
		}
	case webrtc.ICEConnectionStateFailed:
		l.transportUp = false
		l.fail(callerr.KindTransport, "ice", callerr.ErrConnectionFailed)
	}
}

// maybeConnected enters CONNECTED once the answer is settled and the
// transport is up, whichever comes last.
func (l *Link) maybeConnected() {
	if l.negotiated && l.transportUp && !l.localOffer && !l.state.Ended() {
		l.setState(StateConnected, nil)
	}
}

func (l *Link) fail(kind callerr.Kind, op string, err error) {
	if l.ctx.Err() != nil || l.state.Ended() {
		return
	}
	logging.Failure(l.log, op, l.remote, err)
	l.setState(StateFailed, callerr.New(kind, op, err).For(l.remote))
}

func (l *Link) setState(s State, err error) {
	if l.state == s {
		return
	}
	l.state = s
	l.current.Store(int32(s))
	select {
	case l.reports <- linkReport{link: l, state: s, err: err}:
	case <-l.ctx.Done():
	}
}
