package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/presence"
	"github.com/BioHazard786/huddle/internal/relay"
)

// Supervisor keeps one link per active remote participant. A single event
// loop owns the links; presence, inbox messages, link reports and commands
// all reach it through channels.
type Supervisor struct {
	self     string
	tracker  *presence.Tracker
	relay    *relay.Relay
	factory  TransportFactory
	tracks   func() []webrtc.TrackLocal
	publish  func(Event)
	onFail   func(error)
	interval time.Duration
	log      *slog.Logger

	rosters     chan presence.Roster
	inbox       chan relay.Message
	reports     chan linkReport
	renegotiate chan []webrtc.TrackLocal
	done        chan struct{}

	// Owned by the Run goroutine.
	links   map[string]*Link
	retired map[string]bool
	roster  presence.Roster
	active  map[string]bool

	// Tracks that appeared while a link was still negotiating, offered once
	// it connects.
	deferred map[string][]webrtc.TrackLocal

	mu     sync.Mutex
	states map[string]State
}

type supervisorConfig struct {
	self     string
	tracker  *presence.Tracker
	relay    *relay.Relay
	factory  TransportFactory
	tracks   func() []webrtc.TrackLocal
	publish  func(Event)
	onFail   func(error)
	interval time.Duration
	logger   *slog.Logger
}

func newSupervisor(c supervisorConfig) *Supervisor {
	if c.publish == nil {
		c.publish = func(Event) {}
	}
	if c.onFail == nil {
		c.onFail = func(error) {}
	}
	if c.interval <= 0 {
		c.interval = presence.DefaultHeartbeat
	}
	return &Supervisor{
		self:        c.self,
		tracker:     c.tracker,
		relay:       c.relay,
		factory:     c.factory,
		tracks:      c.tracks,
		publish:     c.publish,
		onFail:      c.onFail,
		interval:    c.interval,
		log:         logging.Component(c.logger, "supervisor"),
		rosters:     make(chan presence.Roster),
		inbox:       make(chan relay.Message),
		reports:     make(chan linkReport),
		renegotiate: make(chan []webrtc.TrackLocal),
		done:        make(chan struct{}),
		links:       make(map[string]*Link),
		retired:     make(map[string]bool),
		deferred:    make(map[string][]webrtc.TrackLocal),
		active:      make(map[string]bool),
		states:      make(map[string]State),
	}
}

// Run drives the links until ctx ends. On return every link is closed and
// both subscriptions are cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var stops []func()
	defer func() {
		cancel()
		for _, stop := range stops {
			stop()
		}
		s.closeAll()
		close(s.done)
	}()

	stopRoster, err := s.tracker.Subscribe(ctx, func(r presence.Roster) {
		select {
		case s.rosters <- r:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	stops = append(stops, stopRoster)

	stopInbox, err := s.relay.SubscribeInbox(ctx, s.self, func(m relay.Message) {
		select {
		case s.inbox <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	stops = append(stops, stopInbox)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.rosters:
			s.roster = r
			s.reconcile(ctx)
		case m := <-s.inbox:
			s.handleMessage(ctx, m)
		case rep := <-s.reports:
			s.handleReport(rep)
		case tracks := <-s.renegotiate:
			for id, l := range s.links {
				if l.State() == StateConnected {
					l.Renegotiate(tracks)
				} else {
					s.deferred[id] = append(s.deferred[id], tracks...)
				}
			}
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// Renegotiate offers new local tracks to every connected link. Links still
// negotiating get them once they connect.
func (s *Supervisor) Renegotiate(ctx context.Context, tracks []webrtc.TrackLocal) error {
	select {
	case s.renegotiate <- tracks:
		return nil
	case <-s.done:
		return callerr.New(callerr.KindNegotiation, "renegotiate", callerr.ErrSessionClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Links returns the state of every live link by remote participant.
func (s *Supervisor) Links() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// Done is closed once Run has returned and cleaned up.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) reconcile(ctx context.Context) {
	active := s.tracker.Active(s.roster)
	s.publish(Event{Kind: EventRoster, Roster: active})

	now := make(map[string]bool, len(active))
	for id := range active {
		if id != s.self {
			now[id] = true
		}
	}

	for id := range s.retired {
		if !now[id] {
			delete(s.retired, id)
		}
	}
	for id := range s.links {
		if s.active[id] && !now[id] {
			s.log.Info("participant left", "remote", id)
			s.closeLink(id)
		}
	}
	s.active = now

	for _, id := range active.IDs() {
		if !now[id] || s.links[id] != nil || s.retired[id] {
			continue
		}
		if s.self < id {
			s.dial(ctx, id, RoleCaller)
		}
	}
}

func (s *Supervisor) dial(ctx context.Context, remote string, role Role) *Link {
	tr, err := s.factory(remote)
	if err != nil {
		e := callerr.New(callerr.KindTransport, "create transport", err).For(remote)
		logging.Failure(s.log, "create transport", remote, err)
		s.publish(Event{Kind: EventError, Remote: remote, Err: e})
		return nil
	}

	l := newLink(ctx, s.self, remote, role, tr, s.relay, s.reports, s.log)
	s.links[remote] = l
	s.setState(remote, StateNew)
	s.log.Debug("link created", "remote", remote, "role", role.String())

	if role == RoleCaller {
		l.Call(s.tracks())
	} else {
		l.Accept(s.tracks())
	}
	return l
}

func (s *Supervisor) handleMessage(ctx context.Context, m relay.Message) {
	l := s.links[m.From]
	if l != nil {
		// The link may have ended with its report still in flight. Closing
		// it here drops that report, so the outcome is applied now.
		if st := l.State(); st.Ended() {
			s.endLink(l, st, nil)
			l = nil
		}
	}

	switch m.Kind {
	case relay.KindOffer:
		if l == nil {
			delete(s.retired, m.From)
			if l = s.dial(ctx, m.From, RoleCallee); l == nil {
				return
			}
		}
		l.HandleOffer(m.Payload)
	case relay.KindAnswer:
		if l == nil {
			s.log.Debug("answer for unknown link", "from", m.From)
			return
		}
		l.HandleAnswer(m.Payload)
	case relay.KindCandidate:
		if l == nil {
			s.log.Debug("candidate for unknown link", "from", m.From)
			return
		}
		l.HandleCandidate(m.Payload)
	default:
		logging.Failure(s.log, "handle message", m.From,
			callerr.Wrap(callerr.KindRelay, "handle message", callerr.ErrUnexpectedSignal, string(m.Kind)))
	}
}

func (s *Supervisor) handleReport(rep linkReport) {
	id := rep.link.Remote()
	if s.links[id] != rep.link {
		return
	}
	if rep.state.Ended() {
		s.endLink(rep.link, rep.state, rep.err)
		return
	}
	s.setState(id, rep.state)
	s.publish(Event{Kind: EventLinkState, Remote: id, State: rep.state, Err: rep.err})
	if tracks := s.deferred[id]; rep.state == StateConnected && len(tracks) > 0 {
		delete(s.deferred, id)
		rep.link.Renegotiate(tracks)
	}
}

// endLink is the single teardown path for a link that disconnected or
// failed: it closes and retires the link, and a failure fails the session.
func (s *Supervisor) endLink(l *Link, st State, err error) {
	id := l.Remote()
	s.setState(id, st)
	s.publish(Event{Kind: EventLinkState, Remote: id, State: st, Err: err})

	s.closeLink(id)
	s.retired[id] = true
	if st == StateFailed {
		if err == nil {
			err = callerr.New(callerr.KindTransport, "link", callerr.ErrConnectionFailed).For(id)
		}
		s.onFail(err)
	}
}

func (s *Supervisor) closeLink(id string) {
	l := s.links[id]
	if l == nil {
		return
	}
	l.Close()
	delete(s.links, id)
	delete(s.deferred, id)

	s.mu.Lock()
	delete(s.states, id)
	s.mu.Unlock()
	s.publish(Event{Kind: EventLinkState, Remote: id, State: StateClosed})
}

func (s *Supervisor) closeAll() {
	for id := range s.links {
		s.closeLink(id)
	}
}

func (s *Supervisor) setState(id string, st State) {
	s.mu.Lock()
	s.states[id] = st
	s.mu.Unlock()
}
