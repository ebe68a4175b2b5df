// Package netutil inspects the local network to decide how media should flow.
package netutil

import (
	"net"
	"strings"
)

// Cloudflare WARP, Tailscale and carrier-grade NAT hand out addresses here.
var cgnatBlock = mustCIDR("100.64.0.0/10")

var tunnelMarkers = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

// Interface is the part of a network interface the relay heuristic looks at.
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []net.IP
}

// ShouldForceRelay reports whether this machine is likely behind a VPN or
// CGNAT, where direct peer-to-peer media rarely works and TURN should be used.
func ShouldForceRelay() bool {
	ifaces, err := localInterfaces()
	if err != nil {
		return false
	}
	return NeedsRelay(ifaces)
}

// NeedsRelay applies the VPN/CGNAT heuristic to a set of interfaces.
func NeedsRelay(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop {
			continue
		}
		if isTunnelName(iface.Name) {
			return true
		}
		for _, ip := range iface.Addrs {
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func isTunnelName(name string) bool {
	name = strings.ToLower(name)
	for _, m := range tunnelMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

func localInterfaces() ([]Interface, error) {
	sys, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(sys))
	for _, s := range sys {
		iface := Interface{
			Name: s.Name,
			Up:   s.Flags&net.FlagUp != 0,
			Loop: s.Flags&net.FlagLoopback != 0,
		}
		addrs, err := s.Addrs()
		if err == nil {
			for _, a := range addrs {
				switch v := a.(type) {
				case *net.IPNet:
					iface.Addrs = append(iface.Addrs, v.IP)
				case *net.IPAddr:
					iface.Addrs = append(iface.Addrs, v.IP)
				}
			}
		}
		out = append(out, iface)
	}
	return out, nil
}

func mustCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return block
}
