package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

// Error kinds counted in enocean_errors_total
const (
	errDesync          = "desync"
	errShortPacket     = "short_packet"
	errUnrecognized    = "unrecognized"
	errUnknownDevice   = "unknown_device"
	errProfileNotFound = "profile_not_found"
	errExtraction      = "extraction"
	errSink            = "sink"
	errCommand         = "command"
)

// Metrics holds the Prometheus collectors of a Gateway
type Metrics struct {
	Frames         prometheus.Counter
	SkippedBytes   prometheus.Counter
	Desyncs        *prometheus.CounterVec
	Packets        *prometheus.CounterVec
	Records        *prometheus.CounterVec
	Announcements  prometheus.Counter
	Errors         *prometheus.CounterVec
	DecodeDuration prometheus.Histogram

	gatherer prometheus.Gatherer
	last     esp3.Stats
}

// NewMetrics creates the collectors and registers them with a new registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enocean_frames_total",
			Help: "Checksum-valid ESP3 frames received",
		}),
		SkippedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enocean_skipped_bytes_total",
			Help: "Bytes discarded while scanning for a sync byte",
		}),
		Desyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enocean_desyncs_total",
			Help: "Checksum failures that caused a resynchronization",
		}, []string{"reason"}),
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enocean_packets_total",
			Help: "Decoded packets by packet type",
		}, []string{"type"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enocean_records_total",
			Help: "Decoded data telegrams by profile",
		}, []string{"eep"}),
		Announcements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enocean_announcements_total",
			Help: "Teach-in telegrams received",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enocean_errors_total",
			Help: "Telegrams dropped, by error kind",
		}, []string{"kind"}),
		DecodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "enocean_decode_duration_seconds",
			Help:    "Time to decode a telegram payload",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 8),
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Frames,
		m.SkippedBytes,
		m.Desyncs,
		m.Packets,
		m.Records,
		m.Announcements,
		m.Errors,
		m.DecodeDuration,
	)
	return m
}

// observeReader adds the reader counters grown since the last call
func (m *Metrics) observeReader(s esp3.Stats) {
	m.Frames.Add(float64(s.Frames - m.last.Frames))
	m.SkippedBytes.Add(float64(s.SkippedBytes - m.last.SkippedBytes))
	m.last = s
}

// Handler serves the collectors in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
