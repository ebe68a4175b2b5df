package call

import "github.com/pion/webrtc/v4"

// Transport is the media connection to one remote participant.
type Transport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	// OnICECandidate is called for every locally gathered candidate.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(webrtc.ICEConnectionState))
	Close() error
}

// TransportFactory creates the transport for a link to remoteID.
type TransportFactory func(remoteID string) (Transport, error)
