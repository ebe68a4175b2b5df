package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/relay"
)

var errNoRemoteDescription = errors.New("remote description not set")

// fakeTransport models the parts of a PeerConnection the links rely on:
// candidates need a remote description, gathering starts with the local
// description, and with autoConnect the transport comes up once both
// descriptions are set.
type fakeTransport struct {
	self, remote string
	autoConnect  bool

	mu          sync.Mutex
	local       *webrtc.SessionDescription
	remoteDesc  *webrtc.SessionDescription
	applied     []string
	tracks      []webrtc.TrackLocal
	offers      int
	rollbacks   int
	closed      bool
	connected   bool
	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.ICEConnectionState)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer %s>%s #%d", f.self, f.remote, f.offers)}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteDesc == nil || f.remoteDesc.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer %s>%s", f.self, f.remote)}, nil
}

func (f *fakeTransport) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	if d.Type == webrtc.SDPTypeRollback {
		defer f.mu.Unlock()
		if f.local == nil || f.local.Type != webrtc.SDPTypeOffer {
			return errors.New("nothing to roll back")
		}
		f.local = nil
		f.rollbacks++
		return nil
	}
	f.local = &d
	cb := f.onCandidate
	f.mu.Unlock()

	if cb != nil {
		go cb(webrtc.ICECandidateInit{Candidate: "candidate:" + f.self})
	}
	f.maybeConnect()
	return nil
}

func (f *fakeTransport) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	f.remoteDesc = &d
	f.mu.Unlock()
	f.maybeConnect()
	return nil
}

func (f *fakeTransport) maybeConnect() {
	f.mu.Lock()
	if !f.autoConnect || f.connected || f.local == nil || f.remoteDesc == nil {
		f.mu.Unlock()
		return
	}
	f.connected = true
	cb := f.onState
	f.mu.Unlock()
	if cb != nil {
		go cb(webrtc.ICEConnectionStateConnected)
	}
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteDesc == nil {
		return errNoRemoteDescription
	}
	f.applied = append(f.applied, c.Candidate)
	return nil
}

func (f *fakeTransport) AddTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(fn func(webrtc.ICEConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fire reports a transport state as if it came from ICE.
func (f *fakeTransport) fire(s webrtc.ICEConnectionState) {
	f.mu.Lock()
	cb := f.onState
	f.mu.Unlock()
	cb(s)
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

func (f *fakeTransport) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) rollbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

// fakeNet hands out fake transports and remembers them per participant.
type fakeNet struct {
	mu         sync.Mutex
	transports map[string][]*fakeTransport
}

func newFakeNet() *fakeNet {
	return &fakeNet{transports: make(map[string][]*fakeTransport)}
}

func (n *fakeNet) factory(self string) TransportFactory {
	return func(remote string) (Transport, error) {
		t := &fakeTransport{self: self, remote: remote, autoConnect: true}
		n.mu.Lock()
		n.transports[self+">"+remote] = append(n.transports[self+">"+remote], t)
		n.mu.Unlock()
		return t, nil
	}
}

// latest returns the newest transport self created for remote.
func (n *fakeNet) latest(self, remote string) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts := n.transports[self+">"+remote]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (n *fakeNet) count(self, remote string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports[self+">"+remote])
}

type sent struct {
	kind    relay.Kind
	payload []byte
}

// recordingSignaler captures what a link sends instead of relaying it.
type recordingSignaler struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recordingSignaler) Send(_ context.Context, kind relay.Kind, from, to string, payload []byte) (relay.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sent{kind: kind, payload: payload})
	return relay.Message{Kind: kind, From: from, To: to, Payload: payload}, nil
}

// kinds returns the non-candidate kinds sent so far.
func (r *recordingSignaler) kinds() []relay.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []relay.Kind
	for _, m := range r.msgs {
		if m.kind != relay.KindCandidate {
			out = append(out, m.kind)
		}
	}
	return out
}
