package callerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "plain",
			err:  New(KindRelay, "send", ErrTimeout),
			want: "relay send: timeout",
		},
		{
			name: "with participant",
			err:  New(KindNegotiation, "set remote description", ErrUnexpectedSignal).For("bob"),
			want: "negotiation set remote description [bob]: unexpected signal type",
		},
		{
			name: "with details",
			err:  Wrap(KindMedia, "acquire", ErrNoTracks, "audio-only"),
			want: "media acquire: no usable media tracks (audio-only)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(KindPresence, "heartbeat", ErrNotJoined)
	wrapped := fmt.Errorf("tick: %w", base)

	assert.Equal(t, KindPresence, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindPresence))
	assert.False(t, Is(wrapped, KindRelay))
	assert.True(t, errors.Is(wrapped, ErrNotJoined))
	assert.Equal(t, Kind(""), KindOf(errors.New("bare")))
	assert.False(t, Is(nil, KindPresence))
}

func TestForDoesNotMutateOriginal(t *testing.T) {
	base := New(KindTransport, "ice", ErrConnectionFailed)
	tagged := base.For("alice")

	assert.Empty(t, base.Participant)
	assert.Equal(t, "alice", tagged.Participant)
}
