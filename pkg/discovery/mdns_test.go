package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/brutella/dnssd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDefaults(t *testing.T) {
	b := withDefaults(Bridge{Name: "hall", Port: 8321})
	assert.Equal(t, ServiceType, b.Type)
	assert.Equal(t, DefaultDomain, b.Domain)
	assert.Len(t, b.InstanceID(), 36)

	given := map[string]string{"id": "fixed", "version": "1"}
	b = withDefaults(Bridge{Name: "hall", Text: given})
	assert.Equal(t, "fixed", b.InstanceID())
	assert.Equal(t, "1", b.Text["version"])
}

func TestFromEntry(t *testing.T) {
	b := fromEntry(dnssd.BrowseEntry{
		Name:   "hall",
		Type:   ServiceType,
		Domain: DefaultDomain,
		Host:   "hall.local",
		IPs:    []net.IP{net.ParseIP("192.168.1.20")},
		Port:   8321,
		Text:   map[string]string{"id": "abc"},
	})
	assert.Equal(t, "abc", b.InstanceID())
	assert.Equal(t, "http://192.168.1.20:8321", b.URL())

	// Entries resolved without an address fall back to the host name.
	b = fromEntry(dnssd.BrowseEntry{Name: "attic", Host: "attic.local", Port: 80})
	assert.Nil(t, b.Addr)
	assert.Equal(t, "http://attic.local:80", b.URL())
}

func TestSnapshotSorted(t *testing.T) {
	got := snapshot(map[string]Bridge{
		"b": {Name: "kitchen"},
		"a": {Name: "attic"},
		"c": {Name: "hall"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"attic", "hall", "kitchen"}, []string{got[0].Name, got[1].Name, got[2].Name})
}

type fakeAdapter struct{ results []Result }

func (f fakeAdapter) Announce(context.Context, Bridge) error { return nil }

func (f fakeAdapter) Discover(ctx context.Context, _ string) <-chan Result {
	ch := make(chan Result, len(f.results))
	for _, r := range f.results {
		ch <- r
	}
	close(ch)
	return ch
}

func TestBrowse(t *testing.T) {
	got, err := Browse(context.Background(), fakeAdapter{results: []Result{
		{Bridges: []Bridge{{Name: "a"}}},
		{Bridges: []Bridge{{Name: "a"}, {Name: "b"}}},
	}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = Browse(context.Background(), fakeAdapter{results: []Result{{Error: assert.AnError}}})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMDNSAdapter_AnnounceStops(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- (&MDNSAdapter{}).Announce(ctx, Bridge{Name: "test-bridge", Type: "_ledbridge-test._tcp", Port: 8321})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("announcement did not stop")
	}
}

func TestMDNSAdapter_Discover(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &MDNSAdapter{}

	bridge := Bridge{Name: "test-bridge", Type: "_ledbridge-test._tcp", Domain: "local", Port: 8321}
	go func() { _ = a.Announce(ctx, bridge) }()
	time.Sleep(300 * time.Millisecond)

	queryCtx, queryCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer queryCancel()

	result := <-a.Discover(queryCtx, bridge.Type+"."+bridge.Domain+".")
	require.NoError(t, result.Error)
	require.NotEmpty(t, result.Bridges)
	assert.Equal(t, bridge.Name, result.Bridges[0].Name)
	assert.Equal(t, bridge.Port, result.Bridges[0].Port)
	assert.NotEmpty(t, result.Bridges[0].InstanceID())
}
