package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/concurrency"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/manager"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

var errAdapterNotReady = errors.New("bluetooth adapter not initialised")

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// requestError carries a status for failures detected by the API itself.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// StatusFor maps an error onto the HTTP status reported for it.
func StatusFor(err error) int {
	var reqErr *requestError
	var serErr *transfer.SerializationError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status
	case errors.Is(err, manager.ErrDeviceNotFound), errors.Is(err, ble.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, led.ErrUnknownCommand), errors.Is(err, led.ErrInvalidScene):
		return http.StatusBadRequest
	case errors.Is(err, transfer.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, concurrency.ErrBusy),
		errors.Is(err, ble.ErrAdapterDisabled),
		errors.Is(err, ble.ErrScanInProgress),
		errors.Is(err, errAdapterNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, ble.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, transfer.ErrProtocol),
		errors.Is(err, transfer.ErrNoDataReceived),
		errors.As(err, &serErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	id := RequestIDFrom(r.Context())
	if status >= http.StatusInternalServerError {
		a.log.Error("Request failed", "request_id", id, "path", r.URL.Path, "status", status, "error", err)
	} else {
		a.log.Warn("Request rejected", "request_id", id, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: id})
}
