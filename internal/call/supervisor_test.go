package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/presence"
	"github.com/BioHazard786/huddle/internal/relay"
	"github.com/BioHazard786/huddle/internal/store"
)

// gate parks the supervisor inside its next publish call once armed, so a
// test can line up several inputs before the event loop reads any of them.
type gate struct {
	armed   atomic.Bool
	held    chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{held: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) publish(Event) {
	if g.armed.CompareAndSwap(true, false) {
		g.held <- struct{}{}
		<-g.release
	}
}

type supervisorHarness struct {
	sup   *Supervisor
	relay *relay.Relay
	net   *fakeNet
	gate  *gate

	mu    sync.Mutex
	fails []error
}

func (h *supervisorHarness) failures() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.fails...)
}

func startSupervisor(t *testing.T, ctx context.Context) *supervisorHarness {
	t.Helper()
	st := store.NewMemory()
	tracker, err := presence.New(st, "study-room", presence.WithLogger(logging.Discard()), presence.WithStaleAfter(time.Second))
	require.NoError(t, err)
	require.NoError(t, tracker.Join(ctx, "a", "a", true))
	require.NoError(t, tracker.Join(ctx, "b", "b", true))
	rl, err := relay.New(st, "study-room", relay.WithLogger(logging.Discard()))
	require.NoError(t, err)

	h := &supervisorHarness{relay: rl, net: newFakeNet(), gate: newGate()}
	h.sup = newSupervisor(supervisorConfig{
		self:     "a",
		tracker:  tracker,
		relay:    rl,
		factory:  h.net.factory("a"),
		tracks:   func() []webrtc.TrackLocal { return nil },
		publish:  h.gate.publish,
		onFail: func(err error) {
			h.mu.Lock()
			h.fails = append(h.fails, err)
			h.mu.Unlock()
		},
		interval: 10 * time.Millisecond,
		logger:   logging.Discard(),
	})
	go h.sup.Run(ctx)
	return h
}

func TestFailureReportedWhileInboxMessageQueued(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		h := startSupervisor(t, ctx)

		// Nobody answers for b, so a's link stays in negotiation.
		require.Eventually(t, func() bool { return h.sup.Links()["b"] == StateNegotiating }, wait, 5*time.Millisecond)

		h.gate.armed.Store(true)
		<-h.gate.held
		l := h.sup.links["b"]
		require.NotNil(t, l)

		// The link ends while the loop is parked, so its report waits in
		// the reports channel while a candidate from b waits in the inbox.
		h.net.latest("a", "b").fire(webrtc.ICEConnectionStateFailed)
		require.Eventually(t, func() bool { return l.State() == StateFailed }, wait, time.Millisecond)
		_, err := h.relay.Send(ctx, relay.KindCandidate, "b", "a", []byte(`{"candidate":"candidate:b"}`))
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
		close(h.gate.release)

		require.Eventually(t, func() bool { return len(h.failures()) == 1 }, wait, 5*time.Millisecond, "trial %d", i)
		assert.True(t, errors.Is(h.failures()[0], callerr.ErrConnectionFailed), "trial %d", i)
		require.Eventually(t, func() bool { return len(h.sup.Links()) == 0 }, wait, 5*time.Millisecond, "trial %d", i)

		// Retired until b leaves or offers, so no redial.
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, h.net.count("a", "b"), "trial %d", i)
		assert.Len(t, h.failures(), 1, "trial %d", i)

		cancel()
		<-h.sup.Done()
	}
}

func TestOfferAfterUnreportedFailureRedials(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startSupervisor(t, ctx)

	require.Eventually(t, func() bool { return h.sup.Links()["b"] == StateNegotiating }, wait, 5*time.Millisecond)
	h.gate.armed.Store(true)
	<-h.gate.held
	l := h.sup.links["b"]

	h.net.latest("a", "b").fire(webrtc.ICEConnectionStateFailed)
	require.Eventually(t, func() bool { return l.State() == StateFailed }, wait, time.Millisecond)
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer b>a"}
	payload, err := json.Marshal(offer)
	require.NoError(t, err)
	_, err = h.relay.Send(ctx, relay.KindOffer, "b", "a", payload)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	close(h.gate.release)

	// The failure still counts, and the offer brings b back as a callee.
	require.Eventually(t, func() bool { return len(h.failures()) == 1 }, wait, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.net.count("a", "b") == 2 }, wait, 5*time.Millisecond)
	assert.False(t, h.net.latest("a", "b").isClosed())
	assert.True(t, l.tr.(*fakeTransport).isClosed())
}

func TestRenegotiateSkipsLinksNotConnected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startSupervisor(t, ctx)

	require.Eventually(t, func() bool { return h.sup.Links()["b"] == StateNegotiating }, wait, 5*time.Millisecond)
	tr := h.net.latest("a", "b")
	offers := func() int {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.offers
	}
	before := offers()

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "a")
	require.NoError(t, err)
	require.NoError(t, h.sup.Renegotiate(ctx, []webrtc.TrackLocal{video}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, tr.trackCount())
	assert.Equal(t, before, offers())
	assert.Equal(t, StateNegotiating, h.sup.Links()["b"])

	// Once b answers the link connects and the held track is offered.
	answer, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer b>a"})
	require.NoError(t, err)
	_, err = h.relay.Send(ctx, relay.KindAnswer, "b", "a", answer)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.trackCount() == 1 }, wait, 5*time.Millisecond)
	require.Eventually(t, func() bool { return offers() == before+1 }, wait, 5*time.Millisecond)
}
