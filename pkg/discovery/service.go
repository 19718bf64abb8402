// Package discovery announces the bridge on the local network over mDNS
// and finds other bridges.
package discovery

import (
	"context"
	"net"
	"strconv"
)

const (
	ServiceType   = "_ledbridge._tcp"
	DefaultDomain = "local"
)

// Bridge describes one announced bridge instance.
type Bridge struct {
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Domain string            `json:"domain"`
	Host   string            `json:"host,omitempty"`
	Addr   net.IP            `json:"addr,omitempty"`
	Port   int               `json:"port"`
	Text   map[string]string `json:"text,omitempty"`
}

// InstanceID is the identifier the bridge put in its TXT record.
func (b Bridge) InstanceID() string { return b.Text["id"] }

// URL is the base address of the bridge's HTTP surface.
func (b Bridge) URL() string {
	host := b.Host
	if b.Addr != nil {
		host = b.Addr.String()
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(b.Port))
}

// Result carries either a snapshot of every bridge seen so far or an error.
type Result struct {
	Bridges []Bridge
	Error   error
}

type Adapter interface {
	Announce(ctx context.Context, bridge Bridge) error
	Discover(ctx context.Context, service string) <-chan Result
}
