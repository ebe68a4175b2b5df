// Package presence tracks who is in a room. Records are refreshed by a
// heartbeat and judged stale by age. Stale records are filtered by readers
// and never deleted here.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/store"
)

const (
	DefaultHeartbeat  = 10 * time.Second
	DefaultStaleAfter = 30 * time.Second
)

// Record is one participant's presence entry.
type Record struct {
	Name      string    `msgpack:"name" json:"name"`
	AudioOnly bool      `msgpack:"audio_only" json:"audio_only"`
	LastSeen  time.Time `msgpack:"last_seen" json:"last_seen"`
}

// Roster maps participant IDs to their records.
type Roster map[string]Record

// Active returns the records seen less than staleAfter before now.
func (r Roster) Active(now time.Time, staleAfter time.Duration) Roster {
	out := make(Roster, len(r))
	for id, rec := range r {
		if now.Sub(rec.LastSeen) < staleAfter {
			out[id] = rec
		}
	}
	return out
}

// IDs returns the participant IDs in lexical order.
func (r Roster) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r Roster) Clone() Roster {
	out := make(Roster, len(r))
	for id, rec := range r {
		out[id] = rec
	}
	return out
}

// Tracker manages presence for one room.
type Tracker struct {
	store      store.Store
	room       string
	now        func() time.Time
	heartbeat  time.Duration
	staleAfter time.Duration
	log        *slog.Logger

	mu     sync.Mutex
	joined map[string]Record
	subs   int
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = logging.Component(l, "presence") }
}

func WithHeartbeat(d time.Duration) Option {
	return func(t *Tracker) { t.heartbeat = d }
}

func WithStaleAfter(d time.Duration) Option {
	return func(t *Tracker) { t.staleAfter = d }
}

func New(s store.Store, room string, opts ...Option) (*Tracker, error) {
	if !store.ValidID(room) {
		return nil, callerr.Wrap(callerr.KindPresence, "new tracker", callerr.ErrInvalidID, room)
	}
	t := &Tracker{
		store:      s,
		room:       room,
		now:        time.Now,
		heartbeat:  DefaultHeartbeat,
		staleAfter: DefaultStaleAfter,
		log:        logging.Component(nil, "presence"),
		joined:     make(map[string]Record),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

func (t *Tracker) Room() string { return t.room }

func (t *Tracker) StaleAfter() time.Duration { return t.staleAfter }

func (t *Tracker) HeartbeatInterval() time.Duration { return t.heartbeat }

// Active filters r against the tracker's clock and staleness threshold.
func (t *Tracker) Active(r Roster) Roster {
	return r.Active(t.now(), t.staleAfter)
}

// Join writes the participant's record and, when the store supports it,
// asks for the record to be removed if the connection drops. The record is
// remembered even if the write fails so the next heartbeat repairs it.
func (t *Tracker) Join(ctx context.Context, participantID, displayName string, audioOnly bool) error {
	key, err := store.PresenceKey(t.room, participantID)
	if err != nil {
		return callerr.Wrap(callerr.KindPresence, "join", callerr.ErrInvalidID, participantID).For(participantID)
	}

	rec := Record{Name: displayName, AudioOnly: audioOnly, LastSeen: t.now()}
	t.mu.Lock()
	t.joined[participantID] = rec
	t.mu.Unlock()

	if err := t.write(ctx, key, rec); err != nil {
		return callerr.New(callerr.KindPresence, "join", err).For(participantID)
	}

	if hook, ok := t.store.(store.DisconnectHook); ok {
		if err := hook.RemoveOnDisconnect(ctx, key); err != nil {
			logging.Failure(t.log, "remove on disconnect", participantID, err)
		}
	} else {
		t.log.Debug("store has no disconnect hook, relying on staleness", "participant", participantID)
	}
	return nil
}

// Heartbeat refreshes the participant's timestamp. The whole record is
// rewritten, which also restores a record that went missing.
func (t *Tracker) Heartbeat(ctx context.Context, participantID string) error {
	t.mu.Lock()
	rec, ok := t.joined[participantID]
	if ok {
		rec.LastSeen = t.now()
		t.joined[participantID] = rec
	}
	t.mu.Unlock()
	if !ok {
		return callerr.New(callerr.KindPresence, "heartbeat", callerr.ErrNotJoined).For(participantID)
	}

	key, err := store.PresenceKey(t.room, participantID)
	if err != nil {
		return callerr.New(callerr.KindPresence, "heartbeat", err).For(participantID)
	}
	if err := t.write(ctx, key, rec); err != nil {
		return callerr.New(callerr.KindPresence, "heartbeat", err).For(participantID)
	}
	return nil
}

// RunHeartbeat beats until ctx ends or the participant leaves. Failures are
// logged and retried on the next tick.
func (t *Tracker) RunHeartbeat(ctx context.Context, participantID string) {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := t.Heartbeat(ctx, participantID)
			switch {
			case err == nil:
			case errors.Is(err, callerr.ErrNotJoined):
				return
			case ctx.Err() != nil:
				return
			default:
				logging.Failure(t.log, "heartbeat", participantID, err)
			}
		}
	}
}

// Leave deletes the participant's record. When no active member remains the
// whole room is removed, signaling inboxes included. Calling it again is a
// no-op.
func (t *Tracker) Leave(ctx context.Context, participantID string) error {
	key, err := store.PresenceKey(t.room, participantID)
	if err != nil {
		return callerr.Wrap(callerr.KindPresence, "leave", callerr.ErrInvalidID, participantID).For(participantID)
	}

	t.mu.Lock()
	delete(t.joined, participantID)
	t.mu.Unlock()

	if err := t.store.Delete(ctx, key); err != nil {
		return callerr.New(callerr.KindPresence, "leave", err).For(participantID)
	}

	roster, err := t.Snapshot(ctx)
	if err != nil {
		return callerr.New(callerr.KindPresence, "leave", err).For(participantID)
	}
	if len(t.Active(roster)) > 0 {
		return nil
	}

	prefix, _ := store.RoomPrefix(t.room)
	if err := t.store.DeletePrefix(ctx, prefix); err != nil {
		return callerr.Wrap(callerr.KindPresence, "leave", err, "room teardown").For(participantID)
	}
	t.log.Debug("room torn down", "room", t.room, "participant", participantID)
	return nil
}

// Snapshot reads every presence record in the room, stale ones included.
func (t *Tracker) Snapshot(ctx context.Context) (Roster, error) {
	prefix, _ := store.PresencePrefix(t.room)
	entries, err := t.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	roster := make(Roster, len(entries))
	for _, e := range entries {
		var rec Record
		if err := store.Decode(e.Value, &rec); err != nil {
			t.log.Warn("skipping undecodable presence record", "key", e.Key, "err", err)
			continue
		}
		roster[store.Base(e.Key)] = rec
	}
	return roster, nil
}

// Subscribe calls onChange with the full roster now and after every change,
// from a single goroutine, until cancel is called or ctx ends. Cancel is
// idempotent and returns once onChange will no longer be called.
func (t *Tracker) Subscribe(ctx context.Context, onChange func(Roster)) (cancel func(), err error) {
	prefix, _ := store.PresencePrefix(t.room)
	ctx, stop := context.WithCancel(ctx)

	events, err := t.store.Watch(ctx, prefix)
	if err != nil {
		stop()
		return nil, callerr.New(callerr.KindPresence, "subscribe", err)
	}
	roster, err := t.Snapshot(ctx)
	if err != nil {
		stop()
		return nil, callerr.New(callerr.KindPresence, "subscribe", err)
	}

	t.mu.Lock()
	t.subs++
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer func() {
			t.mu.Lock()
			t.subs--
			t.mu.Unlock()
			close(done)
		}()

		onChange(roster.Clone())
		for ev := range events {
			id := store.Base(ev.Key)
			switch ev.Kind {
			case store.EventPut:
				var rec Record
				if err := store.Decode(ev.Value, &rec); err != nil {
					t.log.Warn("skipping undecodable presence record", "key", ev.Key, "err", err)
					continue
				}
				roster[id] = rec
			case store.EventDelete:
				if _, ok := roster[id]; !ok {
					continue
				}
				delete(roster, id)
			}
			onChange(roster.Clone())
		}
		if ctx.Err() == nil {
			logging.Failure(t.log, "subscribe", "", errors.New("presence watch ended unexpectedly"))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
		})
	}, nil
}

// ActiveSubscriptions returns the number of running Subscribe loops.
func (t *Tracker) ActiveSubscriptions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subs
}

func (t *Tracker) write(ctx context.Context, key string, rec Record) error {
	data, err := store.Encode(rec)
	if err != nil {
		return err
	}
	return t.store.Put(ctx, key, data)
}
