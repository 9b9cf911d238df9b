package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pfingest/internal/application/port"
)

const namespace = "pfingest"

// Ingest records consumer loop events in a private registry.
type Ingest struct {
	reg          *prometheus.Registry
	received     prometheus.Counter
	dropped      *prometheus.CounterVec
	runs         *prometheus.CounterVec
	rows         *prometheus.CounterVec
	duration     prometheus.Histogram
	retried      prometheus.Counter
	deadLettered prometheus.Counter
}

func New() *Ingest {
	reg := prometheus.NewRegistry()
	m := &Ingest{
		reg: reg,
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Queue messages received.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dropped_total",
			Help: "Messages acknowledged without ingest, by reason.",
		}, []string{"reason"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_runs_total",
			Help: "Finished ingest attempts, by status.",
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_rows_total",
			Help: "Rows processed, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ingest_duration_seconds",
			Help:    "Time spent handling one message.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		retried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_requeued_total",
			Help: "Messages republished with a delay after a failure.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_dead_lettered_total",
			Help: "Messages routed to the dead-letter destination.",
		}),
	}
	reg.MustRegister(
		m.received, m.dropped, m.runs, m.rows, m.duration, m.retried, m.deadLettered,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Ingest) MessageReceived() { m.received.Inc() }

func (m *Ingest) MessageDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }

func (m *Ingest) RunFinished(status string, rowsOK, rowsFailed int, took time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.rows.WithLabelValues("ok").Add(float64(rowsOK))
	m.rows.WithLabelValues("failed").Add(float64(rowsFailed))
	m.duration.Observe(took.Seconds())
}

func (m *Ingest) Retried() { m.retried.Inc() }

func (m *Ingest) DeadLettered() { m.deadLettered.Inc() }

func (m *Ingest) Registry() *prometheus.Registry { return m.reg }

func (m *Ingest) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

var _ port.IngestMetrics = (*Ingest)(nil)
