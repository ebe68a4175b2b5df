// Package media supplies the local tracks a call publishes.
package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/callerr"
)

// Tracks are the local tracks of one participant. Either may be nil.
type Tracks struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

// List returns the non-nil tracks, audio first.
func (t *Tracks) List() []webrtc.TrackLocal {
	if t == nil {
		return nil
	}
	var out []webrtc.TrackLocal
	if t.Audio != nil {
		out = append(out, t.Audio)
	}
	if t.Video != nil {
		out = append(out, t.Video)
	}
	return out
}

// Provider acquires local media.
type Provider interface {
	// Acquire returns the tracks for a join. Audio-only joins get no video.
	Acquire(ctx context.Context, audioOnly bool) (*Tracks, error)
	// Video returns a video track for a participant upgrading from audio-only.
	Video(ctx context.Context) (webrtc.TrackLocal, error)
}

// Validate enforces that a call has at least one track and that an
// audio-only call has audio.
func Validate(t *Tracks, audioOnly bool) error {
	if t == nil || (t.Audio == nil && t.Video == nil) {
		return callerr.Wrap(callerr.KindMedia, "acquire", callerr.ErrNoTracks, "no audio or video track")
	}
	if audioOnly && t.Audio == nil {
		return callerr.Wrap(callerr.KindMedia, "acquire", callerr.ErrNoTracks, "audio-only join without an audio track")
	}
	return nil
}

// Static creates sample-based opus and vp8 tracks. The application writes
// samples into them; nothing here touches capture devices.
type Static struct {
	// StreamID groups a participant's tracks. Defaults to "huddle".
	StreamID string
	NoAudio  bool
	NoVideo  bool
}

var _ Provider = (*Static)(nil)

func (s *Static) Acquire(ctx context.Context, audioOnly bool) (*Tracks, error) {
	t := &Tracks{}
	if !s.NoAudio {
		a, err := s.audio()
		if err != nil {
			return nil, err
		}
		t.Audio = a
	}
	if !audioOnly && !s.NoVideo {
		v, err := s.Video(ctx)
		if err != nil {
			return nil, err
		}
		t.Video = v
	}
	if err := Validate(t, audioOnly); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Static) Video(context.Context) (webrtc.TrackLocal, error) {
	if s.NoVideo {
		return nil, callerr.Wrap(callerr.KindMedia, "video", callerr.ErrNoTracks, "no camera")
	}
	v, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", s.stream())
	if err != nil {
		return nil, callerr.New(callerr.KindMedia, "video", fmt.Errorf("create vp8 track: %w", err))
	}
	return v, nil
}

func (s *Static) audio() (webrtc.TrackLocal, error) {
	a, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.stream())
	if err != nil {
		return nil, callerr.New(callerr.KindMedia, "acquire", fmt.Errorf("create opus track: %w", err))
	}
	return a, nil
}

func (s *Static) stream() string {
	if s.StreamID == "" {
		return "huddle"
	}
	return s.StreamID
}
