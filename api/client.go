package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/manager"
)

// requestIDInjector tags each outgoing request with a fresh request id.
type requestIDInjector struct {
	next http.RoundTripper
}

func (t *requestIDInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return t.next.RoundTrip(req)
}

// Client talks to a running bridge.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &requestIDInjector{next: http.DefaultTransport},
		},
	}
}

// StatusError is a non-2xx response from the bridge.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge responded %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func devicePath(id, suffix string) string {
	return "/devices/" + url.PathEscape(id) + suffix
}

func (c *Client) Adapter(ctx context.Context) (ble.AdapterInfo, error) {
	var info ble.AdapterInfo
	err := c.do(ctx, http.MethodGet, "/adapter", nil, &info)
	return info, err
}

func (c *Client) Scan(ctx context.Context, timeout time.Duration) ([]manager.Device, error) {
	var devices []manager.Device
	path := "/scan"
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}
	err := c.do(ctx, http.MethodPost, path, nil, &devices)
	return devices, err
}

func (c *Client) Devices(ctx context.Context) ([]manager.Device, error) {
	var devices []manager.Device
	err := c.do(ctx, http.MethodGet, "/devices", nil, &devices)
	return devices, err
}

func (c *Client) Connect(ctx context.Context, id string) (manager.Device, error) {
	var d manager.Device
	err := c.do(ctx, http.MethodPost, devicePath(id, "/connect"), nil, &d)
	return d, err
}

func (c *Client) Disconnect(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, devicePath(id, ""), nil, nil)
}

func (c *Client) Control(ctx context.Context, id string, cmd led.Command) error {
	return c.do(ctx, http.MethodPost, devicePath(id, "/control"), ControlRequest{Command: cmd.String()}, nil)
}

func (c *Client) State(ctx context.Context, id string) (string, error) {
	var resp StateResponse
	err := c.do(ctx, http.MethodGet, devicePath(id, "/state"), nil, &resp)
	return resp.State, err
}

func (c *Client) Scene(ctx context.Context, id string) (led.Scene, error) {
	var scene led.Scene
	err := c.do(ctx, http.MethodGet, devicePath(id, "/scene"), nil, &scene)
	return scene, err
}

// SetScene sends a scene document as is; the bridge validates it.
func (c *Client) SetScene(ctx context.Context, id string, scene json.RawMessage) error {
	return c.do(ctx, http.MethodPut, devicePath(id, "/scene"), scene, nil)
}

func (c *Client) TimeTasks(ctx context.Context, id string) (json.RawMessage, error) {
	var tasks json.RawMessage
	err := c.do(ctx, http.MethodGet, devicePath(id, "/timer"), nil, &tasks)
	return tasks, err
}

func (c *Client) SetTimeTasks(ctx context.Context, id string, tasks json.RawMessage) error {
	return c.do(ctx, http.MethodPut, devicePath(id, "/timer"), tasks, nil)
}

func (c *Client) Transfers(ctx context.Context) (TransfersResponse, error) {
	var resp TransfersResponse
	err := c.do(ctx, http.MethodGet, "/transfers", nil, &resp)
	return resp, err
}
