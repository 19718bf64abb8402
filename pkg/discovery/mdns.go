package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/brutella/dnssd"
	"github.com/google/uuid"
)

type MDNSAdapter struct{}

var _ Adapter = (*MDNSAdapter)(nil)

// Announce responds to mDNS queries for bridge until ctx ends. An empty
// Type or Domain falls back to the package defaults; a missing id TXT
// entry gets a fresh UUID so peers can tell restarts apart.
func (m *MDNSAdapter) Announce(ctx context.Context, bridge Bridge) error {
	bridge = withDefaults(bridge)

	cfg := dnssd.Config{
		Name:   bridge.Name,
		Type:   bridge.Type,
		Domain: bridge.Domain,
		// mdns will multicast to ip address, so we can leave it nil
		IPs:  nil,
		Text: bridge.Text,
		Port: bridge.Port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	slog.Info("Announcing bridge", "name", bridge.Name, "type", bridge.Type, "port", bridge.Port, "id", bridge.InstanceID())
	if err = rp.Respond(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}

	slog.Info("Stopped announcing bridge", "name", bridge.Name)
	return nil
}

func withDefaults(b Bridge) Bridge {
	if b.Type == "" {
		b.Type = ServiceType
	}
	if b.Domain == "" {
		b.Domain = DefaultDomain
	}
	text := make(map[string]string, len(b.Text)+1)
	for k, v := range b.Text {
		text[k] = v
	}
	if text["id"] == "" {
		text["id"] = uuid.NewString()
	}
	b.Text = text
	return b
}

// Discover browses for service, e.g. "_ledbridge._tcp.local.", and sends a
// sorted snapshot after every change. Slow readers miss intermediate
// snapshots. The channel closes when ctx ends.
func (m *MDNSAdapter) Discover(ctx context.Context, service string) <-chan Result {
	var (
		mu      sync.Mutex
		entries = make(map[string]Bridge)
		outCh   = make(chan Result, 10)
	)

	sendSnapshot := func() {
		mu.Lock()
		defer mu.Unlock()
		select {
		case outCh <- Result{Bridges: snapshot(entries)}:
		default:
		}
	}

	addFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		entries[entryKey(e)] = fromEntry(e)
		mu.Unlock()
		sendSnapshot()
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(entries, entryKey(e))
		mu.Unlock()
		sendSnapshot()
	}

	go func() {
		defer close(outCh)
		err := dnssd.LookupType(ctx, service, addFn, rmvFn)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			select {
			case outCh <- Result{Error: fmt.Errorf("mDNS lookup failed: %w", err)}:
			default:
			}
		}
	}()

	return outCh
}

// Browse collects bridges until ctx ends and returns the last snapshot.
func Browse(ctx context.Context, a Adapter) ([]Bridge, error) {
	var last []Bridge
	for res := range a.Discover(ctx, ServiceType+"."+DefaultDomain+".") {
		if res.Error != nil {
			return last, res.Error
		}
		last = res.Bridges
	}
	return last, nil
}

func entryKey(e dnssd.BrowseEntry) string {
	return fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain)
}

func fromEntry(e dnssd.BrowseEntry) Bridge {
	b := Bridge{
		Name:   e.Name,
		Type:   e.Type,
		Domain: e.Domain,
		Host:   e.Host,
		Port:   e.Port,
		Text:   e.Text,
	}
	if len(e.IPs) > 0 {
		b.Addr = e.IPs[0]
	}
	return b
}

func snapshot(entries map[string]Bridge) []Bridge {
	out := make([]Bridge, 0, len(entries))
	for _, b := range entries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
