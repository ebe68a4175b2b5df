// Package store defines the push-subscribable key-value store that presence
// and signaling are built on, plus an in-process implementation.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid key")
	ErrClosed     = errors.New("store closed")
)

type EventKind uint8

const (
	EventPut EventKind = iota + 1
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a committed change to one key.
type Event struct {
	Kind  EventKind `msgpack:"kind" json:"kind"`
	Key   string    `msgpack:"key" json:"key"`
	Value []byte    `msgpack:"value,omitempty" json:"value,omitempty"`
}

type Entry struct {
	Key   string `msgpack:"key" json:"key"`
	Value []byte `msgpack:"value" json:"value"`
}

// Store is a key-value store whose changes can be watched by key prefix.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	// List returns every entry under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	DeletePrefix(ctx context.Context, prefix string) error
	// Watch streams changes under prefix in commit order until ctx is done,
	// then closes the channel.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
	Close() error
}

// DisconnectHook is implemented by stores that can delete a key on the
// caller's behalf when its connection drops. It is best-effort.
type DisconnectHook interface {
	RemoveOnDisconnect(ctx context.Context, key string) error
}

// ValidID reports whether id can be used as a single key segment.
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\x00") && id != "." && id != ".."
}

// Key joins segments into a key. Every segment must be a ValidID.
func Key(parts ...string) (string, error) {
	for _, p := range parts {
		if !ValidID(p) {
			return "", ErrInvalidKey
		}
	}
	return strings.Join(parts, "/"), nil
}

// Prefix is Key with a trailing separator, for List/Watch/DeletePrefix.
func Prefix(parts ...string) (string, error) {
	k, err := Key(parts...)
	if err != nil {
		return "", err
	}
	return k + "/", nil
}

// Base returns the last segment of key.
func Base(key string) string {
	return key[strings.LastIndexByte(key, '/')+1:]
}

func Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
