package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/presence"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/relay"
	"github.com/BioHazard786/huddle/internal/store"
	"github.com/BioHazard786/huddle/internal/store/remote"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv     *Server
	backing *store.Memory
	http    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Origin:       "https://huddle.test",
		StaleAfter:   30 * time.Second,
		AbandonAfter: time.Minute,
		ListenAddr:   "127.0.0.1:0",
	}
	backing := store.NewMemory()
	srv := New(cfg, backing, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := srv.Start(ctx)
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		hs.Close()
	})
	return &fixture{srv: srv, backing: backing, http: hs}
}

func (f *fixture) dial(t *testing.T) *remote.Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	c, err := remote.Dial(context.Background(), url, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func nextEvent(t *testing.T, ch <-chan store.Event) store.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "watch closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return store.Event{}
	}
}

func TestRemoteStoreOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.dial(t)

	require.NoError(t, c.Put(ctx, "rooms/r1/presence/a", []byte("1")))
	require.NoError(t, c.Put(ctx, "rooms/r1/presence/b", []byte("2")))
	require.NoError(t, c.Put(ctx, "rooms/r2/presence/c", []byte("3")))

	v, err := c.Get(ctx, "rooms/r1/presence/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	_, err = c.Get(ctx, "rooms/r1/presence/zzz")
	assert.ErrorIs(t, err, store.ErrNotFound)

	entries, err := c.List(ctx, "rooms/r1/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rooms/r1/presence/a", entries[0].Key)

	require.NoError(t, c.Delete(ctx, "rooms/r1/presence/a"))
	require.NoError(t, c.DeletePrefix(ctx, "rooms/r2/"))

	left, err := f.backing.List(ctx, store.RoomsPrefix())
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "rooms/r1/presence/b", left[0].Key)

	assert.ErrorIs(t, c.Put(ctx, "", nil), store.ErrInvalidKey)
}

func TestWatchAcrossClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	watcher := f.dial(t)
	writer := f.dial(t)

	events, err := watcher.Watch(ctx, "rooms/r1/")
	require.NoError(t, err)

	require.NoError(t, writer.Put(ctx, "rooms/other/presence/x", []byte("ignored")))
	require.NoError(t, writer.Put(ctx, "rooms/r1/presence/a", []byte("hi")))
	require.NoError(t, writer.Delete(ctx, "rooms/r1/presence/a"))

	ev := nextEvent(t, events)
	assert.Equal(t, store.EventPut, ev.Kind)
	assert.Equal(t, "rooms/r1/presence/a", ev.Key)
	assert.Equal(t, []byte("hi"), ev.Value)

	ev = nextEvent(t, events)
	assert.Equal(t, store.EventDelete, ev.Kind)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRemoveOnDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	watcher := f.dial(t)
	owner := f.dial(t)

	events, err := watcher.Watch(ctx, "rooms/r1/presence/")
	require.NoError(t, err)

	tracker, err := presence.New(owner, "r1", presence.WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, tracker.Join(ctx, "alice", "Alice", false))
	assert.Equal(t, store.EventPut, nextEvent(t, events).Kind)

	require.NoError(t, owner.Close())

	ev := nextEvent(t, events)
	assert.Equal(t, store.EventDelete, ev.Kind)
	assert.Equal(t, "rooms/r1/presence/alice", ev.Key)

	_, err = f.backing.Get(ctx, "rooms/r1/presence/alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRelayOverServer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	alice, err := relay.New(f.dial(t), "r1", relay.WithLogger(logging.Discard()))
	require.NoError(t, err)
	bob, err := relay.New(f.dial(t), "r1", relay.WithLogger(logging.Discard()))
	require.NoError(t, err)

	got := make(chan relay.Message, 8)
	cancel, err := bob.SubscribeInbox(ctx, "bob", func(m relay.Message) { got <- m })
	require.NoError(t, err)
	defer cancel()

	for _, p := range []string{"offer", "c1", "c2"} {
		kind := relay.KindCandidate
		if p == "offer" {
			kind = relay.KindOffer
		}
		_, err := alice.Send(ctx, kind, "alice", "bob", []byte(p))
		require.NoError(t, err)
	}

	var order []string
	for range 3 {
		select {
		case m := <-got:
			order = append(order, string(m.Payload))
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}
	assert.Equal(t, []string{"offer", "c1", "c2"}, order)
	assert.Eventually(t, func() bool {
		p, err := alice.Pending(ctx, "bob")
		return err == nil && len(p) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.http.URL+"/api/rooms", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info protocol.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Len(t, strings.Split(info.RoomID, "-"), 4)
	assert.Equal(t, "https://huddle.test/groups/join/"+info.RoomID, info.InviteLink)
	assert.Empty(t, info.Participants)
}

func TestRoomPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tracker, err := presence.New(f.backing, "study", presence.WithLogger(logging.Discard()))
	require.NoError(t, err)
	require.NoError(t, tracker.Join(ctx, "bob", "Bob", true))
	require.NoError(t, tracker.Join(ctx, "alice", "Alice", false))

	stale, _ := store.PresenceKey("study", "ghost")
	old, _ := store.Encode(presence.Record{Name: "Ghost", LastSeen: time.Now().Add(-time.Hour)})
	require.NoError(t, f.backing.Put(ctx, stale, old))

	for _, path := range []string{"/api/rooms/study/presence", "/groups/join/study"} {
		resp, err := http.Get(f.http.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var info protocol.RoomInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		resp.Body.Close()

		assert.Equal(t, "study", info.RoomID)
		assert.Equal(t, "https://huddle.test/groups/join/study", info.InviteLink)
		require.Len(t, info.Participants, 2, path)
		assert.Equal(t, "alice", info.Participants[0].ID)
		assert.Equal(t, "Bob", info.Participants[1].Name)
		assert.True(t, info.Participants[1].AudioOnly)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	require.NoError(t, c.Put(context.Background(), "rooms/r/presence/a", []byte("x")))

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "huddle_connected_clients 1")
	assert.Contains(t, string(body), `huddle_store_operations_total{op="put",result="ok"} 1`)
}
