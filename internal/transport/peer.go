// Package transport implements call.Transport on a pion PeerConnection.
package transport

import (
	"log/slog"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/call"
	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/logging"
	"github.com/BioHazard786/huddle/internal/netutil"
)

// Peer is a PeerConnection to one remote participant.
type Peer struct {
	pc     *pion.PeerConnection
	remote string
	log    *slog.Logger
}

var _ call.Transport = (*Peer)(nil)

// Factory builds the transports for a session. Every peer shares one pion
// API so codecs and interceptors are registered once.
type Factory struct {
	api    *pion.API
	config pion.Configuration
	log    *slog.Logger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) (*Factory, error) {
	logger = logging.Component(logger, "transport")

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, callerr.New(callerr.KindTransport, "register codecs", err)
	}
	ir := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, callerr.New(callerr.KindTransport, "register interceptors", err)
	}
	se := pion.SettingEngine{LoggerFactory: slogFactory{log: logger}}

	return &Factory{
		api:    pion.NewAPI(pion.WithMediaEngine(m), pion.WithInterceptorRegistry(ir), pion.WithSettingEngine(se)),
		config: Configuration(cfg, netutil.ShouldForceRelay()),
		log:    logger,
	}, nil
}

// Configuration returns the ICE setup for cfg. The relay-only policy is used
// when forced by config or by the network, and only if TURN is available.
func Configuration(cfg *config.Config, restrictiveNetwork bool) pion.Configuration {
	iceServers := []pion.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || restrictiveNetwork) {
		policy = pion.ICETransportPolicyRelay
	}

	return pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// New is a call.TransportFactory.
func (f *Factory) New(remoteID string) (call.Transport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, callerr.New(callerr.KindTransport, "create peer connection", err).For(remoteID)
	}

	// Always receive both kinds, whatever this side sends.
	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{Direction: pion.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, callerr.New(callerr.KindTransport, "add transceiver", err).For(remoteID)
		}
	}

	p := &Peer{pc: pc, remote: remoteID, log: f.log.With("remote", remoteID)}
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		p.log.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go drain(track)
	})
	return p, nil
}

func (p *Peer) CreateOffer() (pion.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *Peer) CreateAnswer() (pion.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *Peer) SetLocalDescription(d pion.SessionDescription) error {
	return p.pc.SetLocalDescription(d)
}

func (p *Peer) SetRemoteDescription(d pion.SessionDescription) error {
	return p.pc.SetRemoteDescription(d)
}

func (p *Peer) AddICECandidate(c pion.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *Peer) AddTrack(t pion.TrackLocal) error {
	sender, err := p.pc.AddTrack(t)
	if err != nil {
		return err
	}
	// RTCP must be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *Peer) OnICECandidate(fn func(pion.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *Peer) OnStateChange(fn func(pion.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(fn)
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

// drain reads a remote track until it ends. Playback is outside huddle, but
// unread tracks stall the receiver.
func drain(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
