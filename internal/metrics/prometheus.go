package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	compileDuration *prom.HistogramVec
	compileResults  *prom.CounterVec
	engineExits     *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	pr := &PrometheusRecorder{
		compileDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "texcompile",
			Name:      "compile_duration_seconds",
			Help:      "Duration of compile requests",
			// Engine runs take seconds, not milliseconds.
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		compileResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "texcompile",
			Name:      "compile_results_total",
			Help:      "Compile requests by outcome",
		}, []string{"outcome"}),
		engineExits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "texcompile",
			Name:      "engine_exits_total",
			Help:      "Engine runs by exit code",
		}, []string{"code"}),
	}
	reg.MustRegister(pr.compileDuration, pr.compileResults, pr.engineExits)
	return pr
}

func (p *PrometheusRecorder) ObserveCompile(outcome string, d time.Duration) {
	if p == nil {
		return
	}
	p.compileDuration.WithLabelValues(outcome).Observe(d.Seconds())
	p.compileResults.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncEngineExit(exitCode int) {
	if p == nil {
		return
	}
	p.engineExits.WithLabelValues(strconv.Itoa(exitCode)).Inc()
}

// HTTPHandler returns an http.Handler that serves metrics for the provided gatherer.
func HTTPHandler(g prom.Gatherer) http.Handler {
	if g == nil {
		g = prom.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
