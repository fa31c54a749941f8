package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reader frame outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeFiltered     = "filtered"
	OutcomeDecodeFailed = "decode_failed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canview",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "canview",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	readerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canview",
			Subsystem: "reader",
			Name:      "frames_total",
			Help:      "Frames received from the transport by outcome.",
		},
		[]string{"outcome"},
	)
	readerReceiveErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "canview",
			Subsystem: "reader",
			Name:      "receive_errors_total",
			Help:      "Transient transport receive errors.",
		},
	)
	readerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canview",
			Subsystem: "reader",
			Name:      "exits_total",
			Help:      "Reader loop exits by reason.",
		},
		[]string{"reason"},
	)
	snapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "canview",
			Subsystem: "snapshot",
			Name:      "build_duration_seconds",
			Help:      "Snapshot build duration in seconds.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)
	snapshotEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "canview",
			Subsystem: "snapshot",
			Name:      "entries",
			Help:      "Entries in the most recent snapshot.",
		},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "canview",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state machine transitions.",
		},
		[]string{"from", "to"},
	)
	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "canview",
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Connected snapshot stream clients.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			readerFrames,
			readerReceiveErrors,
			readerExits,
			snapshotDuration,
			snapshotEntries,
			sessionTransitions,
			streamClients,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordHTTPStream(method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}

func RecordFrame(outcome string) {
	RegisterMetrics()
	readerFrames.WithLabelValues(outcome).Inc()
}

func RecordReceiveError() {
	RegisterMetrics()
	readerReceiveErrors.Inc()
}

func RecordReaderExit(reason string) {
	RegisterMetrics()
	readerExits.WithLabelValues(reason).Inc()
}

func RecordSnapshot(entries int, duration time.Duration) {
	RegisterMetrics()
	snapshotEntries.Set(float64(entries))
	snapshotDuration.Observe(duration.Seconds())
}

func RecordSessionTransition(from, to string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(from, to).Inc()
}

func AddStreamClients(delta int) {
	RegisterMetrics()
	streamClients.Add(float64(delta))
}
