// Package api serves the bridge's HTTP command surface.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rescp17/ledBridge/internal/observability"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/manager"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

// maxBodySize bounds request bodies; payloads are capped far lower by the
// transfer config anyway.
const maxBodySize = 1 << 20

type Options struct {
	Manager     *manager.Manager
	Transfers   *transfer.StatusManager
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	ScanTimeout time.Duration
	Logger      *slog.Logger
}

// API is the main entry point for the bridge's HTTP surface.
type API struct {
	manager     *manager.Manager
	transfers   *transfer.StatusManager
	metrics     *observability.Metrics
	gatherer    prometheus.Gatherer
	scanTimeout time.Duration
	log         *slog.Logger

	mux     *http.ServeMux
	handler http.Handler
}

func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 5 * time.Second
	}
	if opts.Transfers == nil {
		opts.Transfers = transfer.NewStatusManager()
	}
	a := &API{
		manager:     opts.Manager,
		transfers:   opts.Transfers,
		metrics:     opts.Metrics,
		gatherer:    opts.Gatherer,
		scanTimeout: opts.ScanTimeout,
		log:         opts.Logger,
		mux:         http.NewServeMux(),
	}
	a.registerRoutes()

	var h http.Handler = a.mux
	if a.metrics != nil {
		h = a.metrics.Middleware(h)
	}
	a.handler = RequestID(RequestLogger(a.log)(h))
	return a
}

// ServeHTTP allows the API struct to satisfy the http.Handler interface.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *API) registerRoutes() {
	a.mux.HandleFunc("GET /adapter", a.adapterHandler)
	a.mux.HandleFunc("POST /scan", a.scanHandler)
	a.mux.HandleFunc("GET /devices", a.devicesHandler)
	a.mux.HandleFunc("POST /devices/{id}/connect", a.connectHandler)
	a.mux.HandleFunc("DELETE /devices/{id}", a.disconnectHandler)
	a.mux.HandleFunc("POST /devices/{id}/control", a.controlHandler)
	a.mux.HandleFunc("GET /devices/{id}/state", a.stateHandler)
	a.mux.HandleFunc("GET /devices/{id}/scene", a.getSceneHandler)
	a.mux.HandleFunc("PUT /devices/{id}/scene", a.setSceneHandler)
	a.mux.HandleFunc("GET /devices/{id}/timer", a.getTimerHandler)
	a.mux.HandleFunc("PUT /devices/{id}/timer", a.setTimerHandler)
	a.mux.HandleFunc("GET /devices/{id}/value", a.readValueHandler)
	a.mux.HandleFunc("PUT /devices/{id}/value", a.writeValueHandler)
	a.mux.HandleFunc("GET /transfers", a.transfersHandler)

	if a.gatherer != nil {
		a.mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
}

func (a *API) adapterHandler(w http.ResponseWriter, r *http.Request) {
	info, ok := a.manager.Adapter()
	if !ok {
		a.writeError(w, r, errAdapterNotReady)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) scanHandler(w http.ResponseWriter, r *http.Request) {
	timeout := a.scanTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			a.writeError(w, r, badRequest("invalid timeout %q", v))
			return
		}
		timeout = d
	}
	devices, err := a.manager.Scan(r.Context(), timeout)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (a *API) devicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Devices())
}

func (a *API) connectHandler(w http.ResponseWriter, r *http.Request) {
	d, err := a.manager.Connect(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Disconnect(r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ControlRequest is the body of POST /devices/{id}/control.
type ControlRequest struct {
	Command string `json:"command"`
}

func (a *API) controlHandler(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	cmd, err := led.ParseCommand(req.Command)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.manager.Control(r.Context(), r.PathValue("id"), cmd); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StateResponse is the body of GET /devices/{id}/state.
type StateResponse struct {
	State string `json:"state"`
}

func (a *API) stateHandler(w http.ResponseWriter, r *http.Request) {
	state, err := a.manager.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{State: state})
}

func (a *API) getSceneHandler(w http.ResponseWriter, r *http.Request) {
	scene, err := a.manager.GetScene(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

func (a *API) setSceneHandler(w http.ResponseWriter, r *http.Request) {
	var scene led.Scene
	if err := decodeBody(w, r, &scene); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.manager.SetScene(r.Context(), r.PathValue("id"), scene); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getTimerHandler(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.manager.GetTimeTasks(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *API) setTimerHandler(w http.ResponseWriter, r *http.Request) {
	var tasks json.RawMessage
	if err := decodeBody(w, r, &tasks); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.manager.SetTimer(r.Context(), r.PathValue("id"), tasks); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) readValueHandler(w http.ResponseWriter, r *http.Request) {
	value, err := a.manager.ReadValue(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (a *API) writeValueHandler(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if err := decodeBody(w, r, &value); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.manager.WriteValue(r.Context(), r.PathValue("id"), value); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransfersResponse is the body of GET /transfers.
type TransfersResponse struct {
	Overall   *transfer.OverallProgress   `json:"overall"`
	Transfers []*transfer.TransferStatus `json:"transfers"`
}

func (a *API) transfersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TransfersResponse{
		Overall:   a.transfers.GetOverallProgress(),
		Transfers: a.transfers.GetAllTransfers(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
		}
		return badRequest("invalid request body: %v", err)
	}
	if dec.More() {
		return badRequest("invalid request body: trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
