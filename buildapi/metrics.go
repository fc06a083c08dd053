package buildapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// apiMetrics owns the Prometheus registry served on /metrics. Build and job
// state are computed from the Source at scrape time; only the request counter
// accumulates.
type apiMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

func newAPIMetrics(source Source) *apiMetrics {
	reg := prometheus.NewRegistry()

	m := &apiMetrics{
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gantry_buildapi_requests_total",
			Help: "Requests served by the build API, by method and path.",
		}, []string{"method", "path"}),
	}

	reg.MustRegister(&buildCollector{source: source})
	return m
}

func (m *apiMetrics) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.WithLabelValues(r.Method, r.URL.Path).Inc()
		next.ServeHTTP(w, r)
	})
}

var (
	buildDurationDesc = prometheus.NewDesc(
		"gantry_build_duration_seconds",
		"How long the current build has been running.",
		nil, nil,
	)
	buildJobsDesc = prometheus.NewDesc(
		"gantry_build_jobs",
		"Jobs in the current build, by state.",
		[]string{"state"}, nil,
	)
	buildInfoDesc = prometheus.NewDesc(
		"gantry_build_info",
		"Details of the current build. Always 1.",
		[]string{"build_id", "slug", "branch", "state"}, nil,
	)
)

// buildCollector derives metrics from a Source snapshot on every scrape,
// rather than keeping counters in sync with the runner.
type buildCollector struct {
	source Source
}

func (c *buildCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- buildDurationDesc
	ch <- buildJobsDesc
	ch <- buildInfoDesc
}

func (c *buildCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Status()

	ch <- prometheus.MustNewConstMetric(buildInfoDesc, prometheus.GaugeValue, 1,
		st.BuildID, st.Slug, st.Branch, st.State)

	if !st.StartedAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(buildDurationDesc, prometheus.GaugeValue,
			time.Since(st.StartedAt).Seconds())
	}

	byState := make(map[string]int)
	for _, j := range st.Jobs {
		byState[j.State]++
	}
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(buildJobsDesc, prometheus.GaugeValue,
			float64(n), state)
	}
}
