package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. Every watcher gets its own Queue, so a slow
// consumer never loses or reorders events.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[*watcher]struct{}
	closed   bool
}

type watcher struct {
	prefix string
	queue  *Queue
}

func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		watchers: make(map[*watcher]struct{}),
	}
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	v := append([]byte(nil), value...)
	m.data[key] = v
	m.publish(Event{Kind: EventPut, Key: key, Value: v})
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.deleteLocked(key)
	return nil
}

func (m *Memory) deleteLocked(key string) {
	if _, ok := m.data[key]; !ok {
		return
	}
	delete(m.data, key)
	m.publish(Event{Kind: EventDelete, Key: key})
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	entries := make([]Entry, 0)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			entries = append(entries, Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (m *Memory) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.deleteLocked(k)
	}
	return nil
}

func (m *Memory) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	w := &watcher{prefix: prefix, queue: NewQueue()}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	out := make(chan Event)
	go func() {
		w.queue.Run(ctx, out)
		m.mu.Lock()
		delete(m.watchers, w)
		m.mu.Unlock()
	}()
	return out, nil
}

// Watchers returns the number of live watches.
func (m *Memory) Watchers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for w := range m.watchers {
		w.queue.Close()
	}
	return nil
}

// publish must be called with m.mu held so queue order matches commit order.
func (m *Memory) publish(ev Event) {
	for w := range m.watchers {
		if strings.HasPrefix(ev.Key, w.prefix) {
			w.queue.Push(ev)
		}
	}
}
