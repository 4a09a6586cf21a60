// Package metrics exposes the pipeline's prometheus collectors. Each Recorder
// owns its registry so tests and concurrent runners never share state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/inseguridad/internal/core"
)

const namespace = "etl"

// Recorder collects the metrics of pipeline runs.
type Recorder struct {
	registry *prometheus.Registry

	rowsRead     *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	accepted     *prometheus.GaugeVec
	warnings     prometheus.Counter
	stageSeconds *prometheus.HistogramVec
	loadAttempts prometheus.Counter
	loadRetries  prometheus.Counter
	state        *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	lastSuccess  prometheus.Gauge
}

// New returns a Recorder with every collector registered. Go runtime and
// process collectors are added when withRuntime is set.
func New(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		rowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_read_total",
			Help:      "Canonical source rows read, by level.",
		}, []string{"level"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected measurement candidates, by reason.",
		}, []string{"reason"}),

		accepted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accepted_rows",
			Help:      "Rows in the last normalized dataset, by table.",
		}, []string{"table"}),

		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Warnings attached to run reports.",
		}),

		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"stage", "outcome"}),

		loadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_attempts_total",
			Help:      "Snapshot write attempts.",
		}),

		loadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_retries_total",
			Help:      "Snapshot write attempts retried after a transient failure.",
		}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "1 for the state the pipeline is in, absent otherwise.",
		}, []string{"state"}),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs, by final state.",
		}, []string{"result"}),

		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last committed snapshot.",
		}),
	}

	r.registry.MustRegister(
		r.rowsRead,
		r.rejections,
		r.accepted,
		r.warnings,
		r.stageSeconds,
		r.loadAttempts,
		r.loadRetries,
		r.state,
		r.runs,
		r.lastSuccess,
	)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry exposes the underlying gatherer.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// WriteTextfile dumps the registry for the node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *Recorder) RowsRead(level core.Level, n int) {
	r.rowsRead.WithLabelValues(level.Slug()).Add(float64(n))
}

func (r *Recorder) Rejections(counts map[core.Reason]int) {
	for reason, n := range counts {
		r.rejections.WithLabelValues(string(reason)).Add(float64(n))
	}
}

// Accepted sets the per-table row gauges.
func (r *Recorder) Accepted(ds core.Dataset) {
	r.accepted.WithLabelValues("geografia").Set(float64(len(ds.Entities)))
	r.accepted.WithLabelValues("indicadores").Set(float64(len(ds.Indicators)))
	r.accepted.WithLabelValues("datos_medicion").Set(float64(len(ds.Measurements)))
}

func (r *Recorder) Warnings(n int) { r.warnings.Add(float64(n)) }

// Stage records how long a stage ran and whether it failed.
func (r *Recorder) Stage(stage string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.stageSeconds.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

func (r *Recorder) LoadAttempts(n int) { r.loadAttempts.Add(float64(n)) }

func (r *Recorder) LoadRetry() { r.loadRetries.Inc() }

// State marks state as the current pipeline state.
func (r *Recorder) State(state string) {
	r.state.Reset()
	r.state.WithLabelValues(state).Set(1)
}

// Finished counts a run by its final state and stamps successful ones.
func (r *Recorder) Finished(result string, committed bool, at time.Time) {
	r.runs.WithLabelValues(result).Inc()
	if committed {
		r.lastSuccess.Set(float64(at.Unix()))
	}
}
