package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/huddle/internal/store"
)

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `huddle:kv:rooms/a\*b\?\[c\]/`, escapeGlob("huddle:kv:rooms/a*b?[c]/"))
}

func TestKeyNamespacing(t *testing.T) {
	s := &Store{namespace: "test:"}
	assert.Equal(t, "test:kv:rooms/r/presence/a", s.key("rooms/r/presence/a"))
	assert.Equal(t, "rooms/r/presence/a", s.unkey("test:kv:rooms/r/presence/a"))
}

// TestRedisRoundTrip runs against a real server when REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, "redis://"+addr+"/0", WithNamespace("huddle-test-"+uuid.NewString()+":"))
	require.NoError(t, err)
	defer s.Close()

	events, err := s.Watch(ctx, "rooms/r1/")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "rooms/r1/inbox/b/001", []byte("first")))
	require.NoError(t, s.Put(ctx, "rooms/r1/inbox/b/002", []byte("second")))
	require.NoError(t, s.Put(ctx, "rooms/r2/inbox/b/001", []byte("elsewhere")))

	entries, err := s.List(ctx, "rooms/r1/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rooms/r1/inbox/b/001", entries[0].Key)

	for _, want := range []string{"rooms/r1/inbox/b/001", "rooms/r1/inbox/b/002"} {
		ev := <-events
		assert.Equal(t, store.EventPut, ev.Kind)
		assert.Equal(t, want, ev.Key)
	}

	require.NoError(t, s.DeletePrefix(ctx, "rooms/"))
	_, err = s.Get(ctx, "rooms/r1/inbox/b/001")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
