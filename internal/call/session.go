// Package call coordinates one participant's mesh of peer connections in a
// room: presence, signaling and a link per remote participant.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/media"
	"github.com/BioHazard786/huddle/internal/presence"
	"github.com/BioHazard786/huddle/internal/relay"
	"github.com/BioHazard786/huddle/internal/store"
)

const (
	eventBuffer  = 128
	leaveTimeout = 5 * time.Second
)

// Options describe the participant and room.
type Options struct {
	Room          string
	ParticipantID string
	DisplayName   string
	AudioOnly     bool
	// AutoRetry runs Retry once, automatically, on the first failure.
	AutoRetry bool
	// Origin prefixes the invite link.
	Origin            string
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	// Zero keeps the relay defaults.
	SendRetries  int
	RetryBackoff time.Duration
}

// Deps are the collaborators a session runs against.
type Deps struct {
	Store      store.Store
	Transports TransportFactory
	Media      media.Provider
	Logger     *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Session is one participant's presence in one call.
type Session struct {
	opts    Options
	deps    Deps
	log     *slog.Logger
	tracker *presence.Tracker
	relay   *relay.Relay
	events  chan Event

	// opMu serializes Start, Retry, EnableVideo and Close.
	opMu      sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	sup       *Supervisor
	supCancel context.CancelFunc

	mu        sync.Mutex
	tracks    *media.Tracks
	state     SessionState
	retried   bool
	closed    bool
	closeOnce sync.Once
}

func NewSession(opts Options, deps Deps) (*Session, error) {
	if !store.ValidID(opts.ParticipantID) {
		return nil, callerr.Wrap(callerr.KindConfig, "new session", callerr.ErrInvalidID, opts.ParticipantID)
	}
	if deps.Store == nil || deps.Transports == nil || deps.Media == nil {
		return nil, callerr.New(callerr.KindConfig, "new session", errors.New("store, transports and media are required"))
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if opts.DisplayName == "" {
		opts.DisplayName = opts.ParticipantID
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = presence.DefaultHeartbeat
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = presence.DefaultStaleAfter
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", opts.Room, "participant", opts.ParticipantID)

	tracker, err := presence.New(deps.Store, opts.Room,
		presence.WithClock(deps.Clock),
		presence.WithLogger(logger),
		presence.WithHeartbeat(opts.HeartbeatInterval),
		presence.WithStaleAfter(opts.StaleAfter),
	)
	if err != nil {
		return nil, err
	}

	relayOpts := []relay.Option{relay.WithClock(deps.Clock), relay.WithLogger(logger)}
	if opts.SendRetries > 0 {
		relayOpts = append(relayOpts, relay.WithRetries(opts.SendRetries))
	}
	if opts.RetryBackoff > 0 {
		relayOpts = append(relayOpts, relay.WithBackoff(opts.RetryBackoff))
	}
	rl, err := relay.New(deps.Store, opts.Room, relayOpts...)
	if err != nil {
		return nil, err
	}

	return &Session{
		opts:    opts,
		deps:    deps,
		log:     logging.Component(logger, "session"),
		tracker: tracker,
		relay:   rl,
		events:  make(chan Event, eventBuffer),
	}, nil
}

// Start acquires media, joins the room and begins connecting to everyone in
// it. ctx bounds the whole session. Only a media failure stops Start; other
// failures are reported on Events and repaired by later heartbeats.
func (s *Session) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return callerr.New(callerr.KindPresence, "start", callerr.ErrSessionClosed)
	}
	if s.group != nil {
		return nil
	}

	tracks, err := s.deps.Media.Acquire(ctx, s.opts.AudioOnly)
	if err == nil {
		err = media.Validate(tracks, s.opts.AudioOnly)
	}
	if err != nil {
		logging.Failure(s.log, "acquire media", s.opts.ParticipantID, err)
		return err
	}
	s.mu.Lock()
	s.tracks = tracks
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.group, s.ctx = errgroup.WithContext(s.ctx)

	s.join()
	s.group.Go(func() error {
		s.tracker.RunHeartbeat(s.ctx, s.opts.ParticipantID)
		return nil
	})
	s.startSupervisor()
	s.setState(SessionActive)
	return nil
}

func (s *Session) join() {
	if err := s.tracker.Join(s.ctx, s.opts.ParticipantID, s.opts.DisplayName, s.opts.AudioOnly); err != nil {
		logging.Failure(s.log, "join", s.opts.ParticipantID, err)
		s.publish(Event{Kind: EventError, Err: err})
	}
}

func (s *Session) startSupervisor() {
	ctx, cancel := context.WithCancel(s.ctx)
	sup := newSupervisor(supervisorConfig{
		self:     s.opts.ParticipantID,
		tracker:  s.tracker,
		relay:    s.relay,
		factory:  s.deps.Transports,
		tracks:   s.localTracks,
		publish:  s.publish,
		onFail:   s.fail,
		interval: s.opts.HeartbeatInterval,
		logger:   s.log,
	})
	s.sup, s.supCancel = sup, cancel

	s.group.Go(func() error {
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Failure(s.log, "supervise", s.opts.ParticipantID, err)
			s.fail(err)
		}
		return nil
	})
}

func (s *Session) stopSupervisor() {
	if s.sup == nil {
		return
	}
	s.supCancel()
	<-s.sup.Done()
	s.sup = nil
}

// fail marks the session failed. With AutoRetry the first failure triggers
// one automatic Retry.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed || s.state == SessionFailed {
		s.mu.Unlock()
		return
	}
	s.state = SessionFailed
	auto := s.opts.AutoRetry && !s.retried
	if auto {
		s.retried = true
	}
	s.mu.Unlock()

	s.publish(Event{Kind: EventSessionState, Session: SessionFailed, Err: err})
	if auto {
		go func() {
			if err := s.Retry(s.ctx); err != nil {
				logging.Failure(s.log, "auto retry", s.opts.ParticipantID, err)
			}
		}()
	}
}

// Retry rebuilds the call from scratch: every link is closed, media is
// acquired again and a fresh supervisor reconnects to the room.
func (s *Session) Retry(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return callerr.New(callerr.KindPresence, "retry", callerr.ErrSessionClosed)
	}
	if s.group == nil {
		return callerr.New(callerr.KindPresence, "retry", callerr.ErrNotJoined)
	}
	s.log.Info("reinitializing session")

	s.stopSupervisor()

	audioOnly := s.opts.AudioOnly && !s.hasVideo()
	tracks, err := s.deps.Media.Acquire(ctx, audioOnly)
	if err == nil {
		err = media.Validate(tracks, audioOnly)
	}
	if err != nil {
		logging.Failure(s.log, "acquire media", s.opts.ParticipantID, err)
		s.publish(Event{Kind: EventError, Err: err})
		return err
	}
	s.mu.Lock()
	s.tracks = tracks
	s.mu.Unlock()

	s.join()
	s.startSupervisor()
	s.setState(SessionActive)
	return nil
}

// EnableVideo adds a camera track after an audio-only join and offers it to
// every connected participant.
func (s *Session) EnableVideo(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return callerr.New(callerr.KindMedia, "enable video", callerr.ErrSessionClosed)
	}
	if s.hasVideo() {
		return nil
	}

	v, err := s.deps.Media.Video(ctx)
	if err != nil {
		logging.Failure(s.log, "enable video", s.opts.ParticipantID, err)
		return err
	}
	s.mu.Lock()
	if s.tracks == nil {
		s.tracks = &media.Tracks{}
	}
	s.tracks.Video = v
	s.mu.Unlock()

	if s.sup == nil {
		return nil
	}
	return s.sup.Renegotiate(ctx, []webrtc.TrackLocal{v})
}

// Close leaves the call. It is safe to call more than once and from any
// state; afterwards there are no links and no subscriptions.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.opMu.Lock()
		defer s.opMu.Unlock()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.group != nil {
			s.cancel()
			_ = s.group.Wait()
			s.sup = nil

			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			defer cancel()
			if err = s.tracker.Leave(ctx, s.opts.ParticipantID); err != nil {
				logging.Failure(s.log, "leave", s.opts.ParticipantID, err)
			}
		}

		s.mu.Lock()
		s.state = SessionClosed
		close(s.events)
		s.mu.Unlock()
	})
	return err
}

// Events streams updates for the UI. It is closed by Close. Events are
// dropped when the reader falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// Links returns the state of every live link by remote participant.
func (s *Session) Links() map[string]State {
	s.opMu.Lock()
	sup := s.sup
	s.opMu.Unlock()
	if sup == nil {
		return map[string]State{}
	}
	return sup.Links()
}

// ActiveSubscriptions counts presence and inbox subscriptions still running.
func (s *Session) ActiveSubscriptions() int {
	return s.tracker.ActiveSubscriptions() + s.relay.ActiveSubscriptions()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Room() string { return s.opts.Room }

func (s *Session) ParticipantID() string { return s.opts.ParticipantID }

// Roster returns the active participants, self included.
func (s *Session) Roster(ctx context.Context) (presence.Roster, error) {
	r, err := s.tracker.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.tracker.Active(r), nil
}

func (s *Session) InviteLink() string {
	return config.BuildInviteLink(s.opts.Origin, s.opts.Room)
}

func (s *Session) localTracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks.List()
}

func (s *Session) hasVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks != nil && s.tracks.Video != nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.publish(Event{Kind: EventSessionState, Session: st})
}

func (s *Session) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Debug("event dropped", "kind", ev.Kind)
	}
}
