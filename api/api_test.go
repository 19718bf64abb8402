package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/ledBridge/internal/observability"
	"github.com/rescp17/ledBridge/pkg/ble/bletest"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/manager"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

const deviceAddr = "AA:BB:CC:00:00:01"

type testBridge struct {
	server  *httptest.Server
	client  *Client
	manager *manager.Manager
	sim     *led.Simulator
}

func newTestBridge(t *testing.T, initAdapter bool) *testBridge {
	t.Helper()

	central := bletest.NewCentral()
	sim := led.NewSimulator(deviceAddr, "LED-desk", led.DefaultProfile(), nil, 96)
	sim.Register(central)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	status := transfer.NewStatusManager()

	m := manager.New(central, manager.Config{Observers: []transfer.Observer{status, metrics}})
	t.Cleanup(func() { _ = m.Close() })
	if initAdapter {
		_, err := m.Init(context.Background())
		require.NoError(t, err)
	}

	a := NewAPI(Options{
		Manager:     m,
		Transfers:   status,
		Metrics:     metrics,
		Gatherer:    reg,
		ScanTimeout: 20 * time.Millisecond,
	})
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)

	return &testBridge{server: srv, client: NewClient(srv.URL), manager: m, sim: sim}
}

func (b *testBridge) request(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, b.server.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestAPI_DeviceLifecycle(t *testing.T) {
	b := newTestBridge(t, true)
	ctx := context.Background()

	info, err := b.client.Adapter(ctx)
	require.NoError(t, err)
	assert.Equal(t, "simulated", info.Backend)

	devices, err := b.client.Scan(ctx, 0)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "LED-desk", devices[0].LocalName)

	d, err := b.client.Connect(ctx, deviceAddr)
	require.NoError(t, err)
	assert.True(t, d.Connected)

	require.NoError(t, b.client.Control(ctx, deviceAddr, led.CommandOpen))
	state, err := b.client.State(ctx, deviceAddr)
	require.NoError(t, err)
	assert.Equal(t, led.StateOpened, state)

	scene := `{"name":"sunset","autoOn":false,"type":"gradient","colors":[{"color":"#ff0000","duration":500},{"color":"#ffaa00","duration":800}],"linear":true}`
	require.NoError(t, b.client.SetScene(ctx, deviceAddr, json.RawMessage(scene)))
	got, err := b.client.Scene(ctx, deviceAddr)
	require.NoError(t, err)
	assert.Equal(t, "sunset", got.Name)
	assert.Len(t, got.Colors, 2)

	require.NoError(t, b.client.SetTimeTasks(ctx, deviceAddr, json.RawMessage(`[{"at":"07:00","scene":"sunset"}]`)))
	tasks, err := b.client.TimeTasks(ctx, deviceAddr)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"at":"07:00","scene":"sunset"}]`, string(tasks))

	transfers, err := b.client.Transfers(ctx)
	require.NoError(t, err)
	// The watcher reads back every stored document, so there may be more.
	assert.GreaterOrEqual(t, transfers.Overall.CompletedTransfers, 4)
	require.GreaterOrEqual(t, len(transfers.Transfers), 4)
	assert.Equal(t, "scene", transfers.Transfers[0].Endpoint)
	assert.Equal(t, transfer.DirectionSend, transfers.Transfers[0].Direction)

	require.NoError(t, b.client.Disconnect(ctx, deviceAddr))
	devices, err = b.client.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, devices[0].Connected)
}

func TestAPI_RawValue(t *testing.T) {
	b := newTestBridge(t, true)
	_, err := b.client.Connect(context.Background(), deviceAddr)
	require.NoError(t, err)

	resp := b.request(t, http.MethodPut, "/devices/"+deviceAddr+"/value", `{"anything":[1,2,3]}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = b.request(t, http.MethodGet, "/devices/"+deviceAddr+"/value", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"anything":[1,2,3]}`, string(body))
}

func TestAPI_ErrorMapping(t *testing.T) {
	b := newTestBridge(t, true)
	_, err := b.client.Connect(context.Background(), deviceAddr)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		errMsg string
	}{
		{"unknown device", http.MethodGet, "/devices/FF:FF:FF:FF:FF:FF/scene", "", http.StatusNotFound, "led not found"},
		{"connect unknown device", http.MethodPost, "/devices/FF:FF:FF:FF:FF:FF/connect", "", http.StatusNotFound, "device not found"},
		{"disconnect unknown device", http.MethodDelete, "/devices/FF:FF:FF:FF:FF:FF", "", http.StatusNotFound, "led not found"},
		{"bad command", http.MethodPost, "/devices/" + deviceAddr + "/control", `{"command":"blink"}`, http.StatusBadRequest, "unknown led command"},
		{"malformed body", http.MethodPost, "/devices/" + deviceAddr + "/control", `{"command":`, http.StatusBadRequest, "invalid request body"},
		{"trailing data", http.MethodPut, "/devices/" + deviceAddr + "/timer", `[] []`, http.StatusBadRequest, "trailing data"},
		{"invalid scene", http.MethodPut, "/devices/" + deviceAddr + "/scene", `{"name":"x","type":"solid","color":"red"}`, http.StatusBadRequest, "invalid scene"},
		{"bad scan timeout", http.MethodPost, "/scan?timeout=soon", "", http.StatusBadRequest, "invalid timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := b.request(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			e := decodeError(t, resp)
			assert.Contains(t, e.Error, tt.errMsg)
			assert.Equal(t, resp.Header.Get(RequestIDHeader), e.RequestID)
		})
	}
}

func TestAPI_PeerErrorIsBadGateway(t *testing.T) {
	b := newTestBridge(t, true)
	_, err := b.client.Connect(context.Background(), deviceAddr)
	require.NoError(t, err)

	b.sim.FailNextTransfer("flash full")
	_, err = b.client.Scene(context.Background(), deviceAddr)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Contains(t, se.Message, "flash full")
}

func TestAPI_AdapterNotReady(t *testing.T) {
	b := newTestBridge(t, false)

	_, err := b.client.Adapter(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)

	_, err = b.client.Scan(context.Background(), 10*time.Millisecond)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestAPI_RequestIDAndMetrics(t *testing.T) {
	b := newTestBridge(t, true)

	req, err := http.NewRequest(http.MethodGet, b.server.URL+"/devices", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "3f1c7a52-7b7e-4a43-9d55-5b2b1d0c7e11")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "3f1c7a52-7b7e-4a43-9d55-5b2b1d0c7e11", resp.Header.Get(RequestIDHeader))

	// Ids that are not UUIDs are replaced.
	req.Header.Set(RequestIDHeader, "<script>")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get(RequestIDHeader), 36)

	resp = b.request(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ledbridge_http_requests_total{method="GET",path="GET /devices",status="200"} 2`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{manager.ErrDeviceNotFound, http.StatusNotFound},
		{led.ErrUnknownCommand, http.StatusBadRequest},
		{transfer.ErrTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&transfer.ProtocolError{Op: "send", Reason: "x"}, http.StatusBadGateway},
		{&transfer.SerializationError{Op: "get_scene", Err: io.ErrUnexpectedEOF}, http.StatusBadGateway},
		{transfer.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.err), tt.err.Error())
	}
}
