// Package relay carries offers, answers and ICE candidates between
// participants through per-recipient inboxes in the store. Each inbox has a
// single consumer that deletes messages after reading them.
package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/store"
)

type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate:
		return true
	}
	return false
}

// Message is one signaling message in a recipient's inbox.
type Message struct {
	ID      string    `msgpack:"id"`
	Kind    Kind      `msgpack:"kind"`
	From    string    `msgpack:"from"`
	To      string    `msgpack:"to"`
	Payload []byte    `msgpack:"payload"`
	Order   string    `msgpack:"order"`
	SentAt  time.Time `msgpack:"sent_at"`
}

const (
	DefaultRetries = 3
	DefaultBackoff = 200 * time.Millisecond

	seenTTL = 10 * time.Minute
)

type Relay struct {
	store   store.Store
	room    string
	log     *slog.Logger
	now     func() time.Time
	retries int
	backoff time.Duration
	order   *orderKeys
	seen    *cache.Cache

	mu   sync.Mutex
	subs int
}

type Option func(*Relay)

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.log = logging.Component(l, "relay") }
}

// WithRetries sets how many times a failed send is retried.
func WithRetries(n int) Option {
	return func(r *Relay) { r.retries = max(n, 0) }
}

func WithBackoff(d time.Duration) Option {
	return func(r *Relay) { r.backoff = d }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func New(s store.Store, room string, opts ...Option) (*Relay, error) {
	if !store.ValidID(room) {
		return nil, callerr.Wrap(callerr.KindRelay, "new relay", callerr.ErrInvalidID, room)
	}
	r := &Relay{
		store:   s,
		room:    room,
		log:     logging.Component(nil, "relay"),
		now:     time.Now,
		retries: DefaultRetries,
		backoff: DefaultBackoff,
		seen:    cache.New(seenTTL, 2*seenTTL),
	}
	for _, o := range opts {
		o(r)
	}
	r.order = &orderKeys{now: r.now}
	return r, nil
}

// Send writes a message into the recipient's inbox. A failed write is
// retried with the same key, so a write that landed twice is still one
// message.
func (r *Relay) Send(ctx context.Context, kind Kind, from, to string, payload []byte) (Message, error) {
	if !kind.Valid() {
		return Message{}, callerr.Wrap(callerr.KindRelay, "send", callerr.ErrUnexpectedSignal, string(kind)).For(to)
	}
	if !store.ValidID(from) || !store.ValidID(to) {
		return Message{}, callerr.New(callerr.KindRelay, "send", callerr.ErrInvalidID).For(to)
	}

	msg := Message{
		ID:      uuid.NewString(),
		Kind:    kind,
		From:    from,
		To:      to,
		Payload: payload,
		SentAt:  r.now(),
	}
	msg.Order = r.order.next(msg.ID)

	key, err := store.InboxKey(r.room, to, msg.Order)
	if err != nil {
		return Message{}, callerr.New(callerr.KindRelay, "send", err).For(to)
	}
	data, err := store.Encode(msg)
	if err != nil {
		return Message{}, callerr.New(callerr.KindRelay, "send", err).For(to)
	}

	wait := r.backoff
	for attempt := 0; ; attempt++ {
		err = r.store.Put(ctx, key, data)
		if err == nil {
			return msg, nil
		}
		if attempt >= r.retries || ctx.Err() != nil {
			break
		}
		r.log.Warn("send failed, retrying", "kind", kind, "to", to, "attempt", attempt+1, "err", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Message{}, callerr.New(callerr.KindRelay, "send", ctx.Err()).For(to)
		case <-t.C:
		}
		wait *= 2
	}

	rerr := callerr.Wrap(callerr.KindRelay, "send "+string(kind), err, "retries exhausted").For(to)
	logging.Failure(r.log, "send "+string(kind), to, err)
	return Message{}, rerr
}

// SubscribeInbox delivers each message addressed to self exactly once, in
// inbox order, and deletes it after onMessage returns. Messages that were
// waiting before the call are delivered first. onMessage is called from a
// single goroutine. Cancel is idempotent and returns once onMessage will no
// longer be called.
func (r *Relay) SubscribeInbox(ctx context.Context, self string, onMessage func(Message)) (cancel func(), err error) {
	prefix, err := store.InboxPrefix(r.room, self)
	if err != nil {
		return nil, callerr.New(callerr.KindRelay, "subscribe inbox", callerr.ErrInvalidID).For(self)
	}
	ctx, stop := context.WithCancel(ctx)

	events, err := r.store.Watch(ctx, prefix)
	if err != nil {
		stop()
		return nil, callerr.New(callerr.KindRelay, "subscribe inbox", err).For(self)
	}
	waiting, err := r.store.List(ctx, prefix)
	if err != nil {
		stop()
		return nil, callerr.New(callerr.KindRelay, "subscribe inbox", err).For(self)
	}

	r.mu.Lock()
	r.subs++
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer func() {
			r.mu.Lock()
			r.subs--
			r.mu.Unlock()
			close(done)
		}()

		for _, e := range waiting {
			if ctx.Err() != nil {
				return
			}
			r.consume(ctx, self, e.Key, e.Value, onMessage)
		}
		for ev := range events {
			if ev.Kind != store.EventPut {
				continue
			}
			r.consume(ctx, self, ev.Key, ev.Value, onMessage)
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

func (r *Relay) consume(ctx context.Context, self, key string, value []byte, onMessage func(Message)) {
	var msg Message
	if err := store.Decode(value, &msg); err != nil {
		logging.Failure(r.log, "decode message", self, err)
		r.remove(ctx, self, key)
		return
	}

	if r.seen.Add(msg.ID, struct{}{}, cache.DefaultExpiration) != nil {
		r.log.Debug("dropping duplicate message", "id", msg.ID, "from", msg.From)
		r.remove(ctx, self, key)
		return
	}

	onMessage(msg)
	r.remove(ctx, self, key)
}

func (r *Relay) remove(ctx context.Context, self, key string) {
	if err := r.store.Delete(ctx, key); err != nil && ctx.Err() == nil {
		logging.Failure(r.log, "delete message", self, err)
	}
}

// Pending returns the messages still waiting in recipient's inbox, oldest
// first, without consuming them.
func (r *Relay) Pending(ctx context.Context, recipient string) ([]Message, error) {
	prefix, err := store.InboxPrefix(r.room, recipient)
	if err != nil {
		return nil, callerr.New(callerr.KindRelay, "pending", callerr.ErrInvalidID).For(recipient)
	}
	entries, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, callerr.New(callerr.KindRelay, "pending", err).For(recipient)
	}
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		var msg Message
		if err := store.Decode(e.Value, &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// ActiveSubscriptions returns the number of running inbox subscriptions.
func (r *Relay) ActiveSubscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs
}
