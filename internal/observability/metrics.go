// Package observability exposes Prometheus metrics for transfers and the
// HTTP command surface.
package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rescp17/ledBridge/pkg/transfer"
)

const namespace = "ledbridge"

// Metrics owns the bridge collectors. It is a transfer.Observer, so it can
// be handed to every engine.
type Metrics struct {
	transfers     *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	chunks        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec

	mu      sync.Mutex
	started map[transferKey]time.Time
}

type transferKey struct {
	device   string
	endpoint string
	id       transfer.TransferID
}

var _ transfer.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "total",
				Help:      "Finished transfers by result.",
			},
			[]string{"direction", "endpoint", "result"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "bytes_total",
				Help:      "Payload bytes moved in chunks.",
			},
			[]string{"direction", "endpoint"},
		),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "chunks_total",
				Help:      "Chunks moved.",
			},
			[]string{"direction", "endpoint"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transfer",
				Name:      "duration_seconds",
				Help:      "Transfer duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"direction", "endpoint"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDurations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		started: make(map[transferKey]time.Time),
	}
	if reg != nil {
		reg.MustRegister(m.transfers, m.bytes, m.chunks, m.duration, m.httpRequests, m.httpDurations)
	}
	return m
}

func key(info transfer.TransferInfo) transferKey {
	return transferKey{device: info.Device, endpoint: info.Endpoint, id: info.ID}
}

func (m *Metrics) TransferStarted(info transfer.TransferInfo) {
	m.mu.Lock()
	m.started[key(info)] = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) ChunkTransferred(info transfer.TransferInfo, chunk transfer.ChunkMeta) {
	dir := string(info.Direction)
	m.chunks.WithLabelValues(dir, info.Endpoint).Inc()
	m.bytes.WithLabelValues(dir, info.Endpoint).Add(float64(chunk.ChunkSize))
}

func (m *Metrics) TransferFinished(info transfer.TransferInfo, err error) {
	k := key(info)
	m.mu.Lock()
	start, ok := m.started[k]
	delete(m.started, k)
	m.mu.Unlock()

	dir := string(info.Direction)
	m.transfers.WithLabelValues(dir, info.Endpoint, transfer.ResultLabel(err)).Inc()
	if ok {
		m.duration.WithLabelValues(dir, info.Endpoint).Observe(time.Since(start).Seconds())
	}
}

// RecordHTTPRequest counts one request against its route pattern.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	s := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, s).Inc()
	m.httpDurations.WithLabelValues(method, path, s).Observe(d.Seconds())
}

// Middleware records every request served by next. Paths are labelled by
// the matched ServeMux pattern to keep device ids out of label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(r.Method, path, rec.Status(), time.Since(start))
	})
}

// StatusRecorder remembers the status code written through it.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w}
}

func (r *StatusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *StatusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *StatusRecorder) Size() int { return r.bytes }

func (r *StatusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
