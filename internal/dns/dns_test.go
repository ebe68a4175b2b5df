package dns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIPLiteral(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "::1", "10.1.2.3"} {
		ip, err := Lookup(context.Background(), host)
		require.NoError(t, err)
		assert.Equal(t, host, ip)
	}
}

func TestLookupLocalhost(t *testing.T) {
	ip, err := Lookup(context.Background(), "localhost")
	require.NoError(t, err)
	assert.NotEmpty(t, ip)
}

func TestPreferIPv4(t *testing.T) {
	ip, err := preferIPv4([]string{"::1", "192.0.2.7", "192.0.2.8"})
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7", ip)

	ip, err = preferIPv4([]string{"2001:db8::1"})
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", ip)

	_, err = preferIPv4(nil)
	assert.ErrorIs(t, err, errNoAddress)
}

func TestRaceServersRespectsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := raceServers(ctx, "example.invalid", []string{"192.0.2.1"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), publicTimeout)
}
