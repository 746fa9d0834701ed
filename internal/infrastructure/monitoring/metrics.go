package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every Record/Set method is safe to
// call on a nil *Metrics, so components can run unmetered in tests.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Channel metrics
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Anomalies       *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	ChannelsActive  prometheus.Gauge
	PendingCalls    prometheus.Gauge

	// Filesystem metrics
	ListingCache *prometheus.CounterVec

	// Transfer metrics
	TransferBytes    prometheus.Counter
	TransfersActive  prometheus.Gauge
	TransferOutcomes *prometheus.CounterVec

	// Stream metrics
	StreamsActive *prometheus.GaugeVec
	StreamEmits   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
}

// NewMetrics creates a metrics collector on its own registry, so several
// instances can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podfs_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_channel_commands_total",
				Help: "Commands sent over command channels",
			},
			[]string{"verb", "status"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podfs_channel_command_duration_seconds",
				Help:    "Round trip time of channel commands",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"verb"},
		),
		Anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_channel_anomalies_total",
				Help: "Protocol anomalies seen on command channels",
			},
			[]string{"kind"},
		),
		Reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_channel_reconnects_total",
				Help: "Command channel reconnect attempts",
			},
			[]string{"outcome"},
		),
		ChannelsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "podfs_channels_active",
				Help: "Number of open command channels",
			},
		),
		PendingCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "podfs_channel_pending_calls",
				Help: "Commands awaiting a result across all channels",
			},
		),

		ListingCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_listing_cache_total",
				Help: "Directory listing read-ahead cache lookups",
			},
			[]string{"result"},
		),

		TransferBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "podfs_transfer_bytes_total",
				Help: "Bytes landed by bulk transfers",
			},
		),
		TransfersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "podfs_transfers_active",
				Help: "Number of running bulk transfers",
			},
		),
		TransferOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_transfers_total",
				Help: "Completed bulk transfers by outcome",
			},
			[]string{"outcome"},
		),

		StreamsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "podfs_streams_active",
				Help: "Number of followed log and event streams",
			},
			[]string{"kind"},
		),
		StreamEmits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_stream_emits_total",
				Help: "Throttled render notifications delivered to consumers",
			},
			[]string{"kind"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "podfs_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podfs_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCommand records one channel round trip
func (m *Metrics) RecordCommand(verb, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(verb, status).Inc()
	m.CommandDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordAnomaly counts a malformed or unmatched inbound line
func (m *Metrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(kind).Inc()
}

// RecordReconnect counts a reconnect attempt ("ok", "failed", "exhausted")
func (m *Metrics) RecordReconnect(outcome string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(outcome).Inc()
}

// AddChannels adjusts the open channel gauge
func (m *Metrics) AddChannels(delta int) {
	if m == nil {
		return
	}
	m.ChannelsActive.Add(float64(delta))
}

// AddPending adjusts the pending call gauge
func (m *Metrics) AddPending(delta int) {
	if m == nil {
		return
	}
	m.PendingCalls.Add(float64(delta))
}

// RecordListingCache counts a read-ahead lookup ("hit" or "miss")
func (m *Metrics) RecordListingCache(result string) {
	if m == nil {
		return
	}
	m.ListingCache.WithLabelValues(result).Inc()
}

// AddTransferBytes counts newly landed transfer bytes
func (m *Metrics) AddTransferBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TransferBytes.Add(float64(n))
}

// TransferStarted marks a transfer as running
func (m *Metrics) TransferStarted() {
	if m == nil {
		return
	}
	m.TransfersActive.Inc()
}

// TransferFinished records the outcome of a transfer
func (m *Metrics) TransferFinished(outcome string) {
	if m == nil {
		return
	}
	m.TransfersActive.Dec()
	m.TransferOutcomes.WithLabelValues(outcome).Inc()
}

// AddStreams adjusts the followed stream gauge
func (m *Metrics) AddStreams(kind string, delta int) {
	if m == nil {
		return
	}
	m.StreamsActive.WithLabelValues(kind).Add(float64(delta))
}

// RecordStreamEmit counts a render notification
func (m *Metrics) RecordStreamEmit(kind string) {
	if m == nil {
		return
	}
	m.StreamEmits.WithLabelValues(kind).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// AddWSConnections adjusts the WebSocket connection gauge
func (m *Metrics) AddWSConnections(delta int) {
	if m == nil {
		return
	}
	m.WSConnections.Add(float64(delta))
}
