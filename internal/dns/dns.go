// Package dns resolves the huddle server host, falling back to public
// resolvers when the system resolver is broken (captive portals, campus
// networks with split DNS).
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	localTimeout  = 1 * time.Second
	publicTimeout = 2 * time.Second
)

// Cloudflare, Google and Quad9 over IPv4 and IPv6.
var publicDNS = []string{
	"1.1.1.1", "1.0.0.1", "2606:4700:4700::1111",
	"8.8.8.8", "8.8.4.4", "2001:4860:4860::8888",
	"9.9.9.9", "149.112.112.112", "2620:fe::fe",
}

var errNoAddress = errors.New("no IP addresses found")

// Lookup resolves host to one IP address, preferring IPv4.
// IP literals are returned unchanged.
func Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	lctx, cancel := context.WithTimeout(ctx, localTimeout)
	ip, err := lookupWith(lctx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return racePublic(ctx, host)
}

// racePublic asks every public resolver at once and takes the first answer.
func racePublic(ctx context.Context, host string) (string, error) {
	return raceServers(ctx, host, publicDNS)
}

func raceServers(ctx context.Context, host string, servers []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, publicTimeout)
	defer cancel()

	type result struct {
		ip  string
		err error
	}
	results := make(chan result, len(servers))
	for _, server := range servers {
		go func(server string) {
			ip, err := lookupWith(ctx, resolverFor(server), host)
			results <- result{ip, err}
		}(server)
	}

	var lastErr error
	for range servers {
		select {
		case r := <-results:
			if r.err == nil {
				return r.ip, nil
			}
			lastErr = r.err
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public resolvers failed: %w", host, len(servers), lastErr)
}

func resolverFor(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(addrs)
}

func preferIPv4(addrs []string) (string, error) {
	if len(addrs) == 0 {
		return "", errNoAddress
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}
