// Package redisstore backs store.Store with Redis. Change notifications ride
// on a pub/sub channel next to the keys. There is no disconnect hook, so
// presence relies on heartbeat staleness when this backend is used.
package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/store"
)

const (
	DefaultNamespace = "huddle:"
	scanBatch        = 200
)

type Store struct {
	rdb       redis.UniversalClient
	namespace string
	channel   string
	log       *slog.Logger
}

type Option func(*Store)

func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = logging.Component(l, "redisstore") }
}

// Open parses a redis:// URL, connects and pings the server.
func Open(ctx context.Context, rawURL string, opts ...Option) (*Store, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return New(rdb, opts...), nil
}

func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, namespace: DefaultNamespace, log: logging.Component(nil, "redisstore")}
	for _, o := range opts {
		o(s)
	}
	s.channel = s.namespace + "events"
	return s
}

func (s *Store) key(k string) string { return s.namespace + "kv:" + k }

func (s *Store) unkey(k string) string { return strings.TrimPrefix(k, s.namespace+"kv:") }

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return store.ErrInvalidKey
	}
	ev, err := store.Encode(store.Event{Kind: store.EventPut, Key: key, Value: value})
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(key), value, 0)
		p.Publish(ctx, s.channel, ev)
		return nil
	})
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	return v, err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, s.key(key)).Result()
	if err != nil || n == 0 {
		return err
	}
	return s.publish(ctx, store.Event{Kind: store.EventDelete, Key: key})
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return []store.Entry{}, err
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]store.Entry, 0, len(keys))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// deleted between SCAN and MGET
			continue
		}
		entries = append(entries, store.Entry{Key: s.unkey(keys[i]), Value: []byte(str)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return err
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Delete(ctx, s.unkey(k)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, prefix string) (<-chan store.Event, error) {
	sub := s.rdb.Subscribe(ctx, s.channel)
	// Wait for the subscription to be confirmed so no later write is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan store.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev store.Event
				if err := store.Decode([]byte(m.Payload), &ev); err != nil {
					s.log.Warn("dropping undecodable event", "err", err)
					continue
				}
				if !strings.HasPrefix(ev.Key, prefix) {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) publish(ctx context.Context, ev store.Event) error {
	data, err := store.Encode(ev)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, data).Err()
}

func (s *Store) scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := escapeGlob(s.key(prefix)) + "*"
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
