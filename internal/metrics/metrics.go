package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ibeckermayer/qckeepalive/internal/login"
)

const namespace = "qckeepalive"

// LoginBuckets cover a run from a fast failure up to a slow navigation plus
// the full verification wait.
var LoginBuckets = []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120, 180} //nolint: gochecknoglobals

// Recorder exports login outcomes to Prometheus.
type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
	lastRun     prometheus.Gauge
}

// New creates a recorder with its own registry, which also carries the Go
// runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_runs_total",
			Help:      "Login attempts by outcome status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_duration_seconds",
			Help:      "Wall time of a login attempt.",
			Buckets:   LoginBuckets,
		}, []string{"status"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last verified login started.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last login attempt started.",
		}),
	}

	r.registry.MustRegister(
		r.runs,
		r.duration,
		r.lastSuccess,
		r.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Expose every status from the start so rate() works before the first failure
	for _, s := range []login.Status{
		login.StatusSuccess,
		login.StatusMissingCredentials,
		login.StatusTimedOut,
		login.StatusUnexpectedError,
	} {
		r.runs.WithLabelValues(s.String())
	}

	return r
}

// Observe records one finished run.
func (r *Recorder) Observe(out login.Outcome) {
	status := out.Status.String()

	r.runs.WithLabelValues(status).Inc()
	r.duration.WithLabelValues(status).Observe(out.Duration.Seconds())
	r.lastRun.Set(float64(out.StartedAt.Unix()))
	if out.OK() {
		r.lastSuccess.Set(float64(out.StartedAt.Unix()))
	}
}

// Registry returns the registry the recorder's collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
