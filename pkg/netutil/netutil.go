// Package netutil provides small parsing and validation helpers for the
// endpoint address forms the synchronization protocols use: ws:// URLs for
// the WebSocket-based CII/TS protocols, and udp://host:port for the wall
// clock protocol.
package netutil

import (
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strconv"
)

// ParseWSURL validates that s looks like a ws:// URL and returns it
// unchanged; css-ciiauth/css-ts endpoints are carried verbatim as strings
// once validated, rather than parsed into a structured URL, since they are
// only ever handed to a WebSocket dialer.
func ParseWSURL(s string) (string, error) {
	if len(s) < len("ws://") || s[:len("ws://")] != "ws://" {
		return "", fmt.Errorf("netutil: %q is not a ws:// URL", s)
	}
	return s, nil
}

var udpURLRe = regexp.MustCompile(`^udp://([^:/]+):([0-9]+)$`)

// ParseUDPURL parses a udp://host:port address, resolving host to a numeric
// IP address if it is a hostname.
func ParseUDPURL(s string) (host string, port int, err error) {
	m := udpURLRe.FindStringSubmatch(s)
	if m == nil {
		return "", 0, fmt.Errorf("netutil: %q is not a udp://<host>:<port> URL", s)
	}
	host, err = ResolveHost(m[1])
	if err != nil {
		return "", 0, err
	}
	port, err = ParsePort(m[2])
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// ResolveHost passes through s unchanged if it is already a dotted-quad IP
// address, otherwise resolves it as a hostname to one of its IP addresses.
func ResolveHost(s string) (string, error) {
	if ip := net.ParseIP(s); ip != nil && ip.To4() != nil {
		return s, nil
	}
	ips, err := net.LookupHost(s)
	if err != nil || len(ips) == 0 {
		return "", fmt.Errorf("netutil: %q is not a resolvable host name or dotted-quad IP address", s)
	}
	return ips[0], nil
}

// ParseIPAddr validates that s is a dotted-quad IPv4 address (not a
// hostname) and returns it unchanged.
func ParseIPAddr(s string) (string, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("netutil: %q is not an IPv4 address of the form n.n.n.n", s)
	}
	return s, nil
}

// ParsePort validates s as a TCP/UDP port number in range.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("netutil: %q is not a valid port number", s)
	}
	if p < 0 || p > 65535 {
		return 0, fmt.Errorf("netutil: port %d out of range", p)
	}
	return p, nil
}

// ParsePortOrRandom is ParsePort, except the literal string "random" picks a
// random port in the 10000-20000 range — used by example/test tooling that
// wants to bind an ephemeral but easy-to-reason-about port.
func ParsePortOrRandom(s string) (int, error) {
	if s == "random" {
		return 10000 + rand.Intn(10000), nil
	}
	return ParsePort(s)
}
