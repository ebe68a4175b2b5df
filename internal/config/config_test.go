package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/huddle/internal/callerr"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DOMAIN", "ORIGIN", "STUN_SERVER", "TURN_SERVER", "TURN_USERNAME", "TURN_PASSWORD",
		"FORCE_RELAY", "STORE", "REDIS_URL", "LISTEN_ADDR", "HEARTBEAT_INTERVAL",
		"STALE_AFTER", "SEND_RETRIES", "ABANDON_AFTER", "AUTO_RETRY",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultDomain, cfg.Domain)
	assert.Equal(t, "https://"+DefaultDomain, cfg.Origin)
	assert.Equal(t, "wss://"+DefaultDomain+"/ws", cfg.WebSocketURL)
	assert.Equal(t, "https://"+DefaultDomain, cfg.APIURL())
	assert.Equal(t, StoreServer, cfg.StoreBackend)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.StaleAfter)
	assert.Equal(t, DefaultSendRetries, cfg.SendRetries)
	assert.Nil(t, cfg.GetTURNServers())
}

func TestLoadPriority(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOMAIN", "env.example.com")
	t.Setenv("STORE", "redis")
	t.Setenv("HEARTBEAT_INTERVAL", "2s")
	t.Setenv("STALE_AFTER", "6s")

	cfg, err := Load(Options{Domain: "localhost:8080"})
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Domain, "flag beats env")
	assert.Equal(t, "ws://localhost:8080/ws", cfg.WebSocketURL)
	assert.Equal(t, "http://localhost:8080", cfg.APIURL())
	assert.Equal(t, StoreRedis, cfg.StoreBackend, "env beats default")
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 6*time.Second, cfg.StaleAfter)
}

func TestLoadSendRetries(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSendRetries, cfg.SendRetries, "empty value means unset")

	t.Setenv("SEND_RETRIES", "0")
	cfg, err = Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.SendRetries)

	t.Setenv("SEND_RETRIES", "5")
	cfg, err = Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.SendRetries)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		opts Options
	}{
		{name: "heartbeat not shorter than staleness", env: map[string]string{"HEARTBEAT_INTERVAL": "30s"}},
		{name: "bad duration", env: map[string]string{"STALE_AFTER": "soon"}},
		{name: "unknown store", opts: Options{StoreBackend: "etcd"}},
		{name: "negative retries", env: map[string]string{"SEND_RETRIES": "-2"}},
		{name: "retries not a number", env: map[string]string{"SEND_RETRIES": "abc"}},
		{name: "relay without turn", opts: Options{ForceRelay: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.opts)
			require.Error(t, err)
			assert.True(t, callerr.Is(err, callerr.KindConfig))
		})
	}
}

func TestInviteLinkRoundTrip(t *testing.T) {
	cfg := &Config{Origin: "https://study.example.org"}

	link := cfg.InviteLink("maths-101")
	assert.Equal(t, "https://study.example.org/groups/join/maths-101", link)

	roomID, err := ParseInviteLink(link)
	require.NoError(t, err)
	assert.Equal(t, "maths-101", roomID)
}

func TestParseInviteLink(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "kitten-waffle-stardust-happy", want: "kitten-waffle-stardust-happy"},
		{in: "  physics  ", want: "physics"},
		{in: "http://localhost:8080/groups/join/chem/", want: "chem"},
		{in: "https://x.org/app/groups/join/bio?ref=mail", want: "bio"},
		{in: "https://x.org/rooms/bio", wantErr: true},
		{in: "https://x.org/groups/join/", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInviteLink(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{TURNServer: "turn:relay.example.org", TURNUser: "u", TURNPass: "p"}

	assert.Equal(t, []string{
		"turn:relay.example.org:3478?transport=udp",
		"turn:relay.example.org:3478?transport=tcp",
		"turns:relay.example.org:5349?transport=tcp",
	}, cfg.GetTURNServers())

	user, pass := cfg.GetTURNCredentials()
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}
