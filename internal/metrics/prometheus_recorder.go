package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	stageDuration *prom.HistogramVec
	buildDuration prom.Histogram
	passDuration  *prom.HistogramVec
	stageResults  *prom.CounterVec
	buildOutcome  *prom.CounterVec
	cacheResults  *prom.CounterVec
	coalesced     prom.Counter
	compilePasses prom.Histogram
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "bundlebuild",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "bundlebuild",
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		})
		pr.passDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "bundlebuild",
			Name:      "compile_pass_duration_seconds",
			Help:      "Duration of individual compiler backend passes",
			Buckets:   prom.DefBuckets,
		}, []string{"kind", "result"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bundlebuild",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bundlebuild",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.cacheResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "bundlebuild",
			Name:      "cache_results_total",
			Help:      "Result cache probe outcomes",
		}, []string{"result"})
		pr.coalesced = prom.NewCounter(prom.CounterOpts{
			Namespace: "bundlebuild",
			Name:      "coalesced_requests_total",
			Help:      "Requests served by an already in-flight identical build",
		})
		pr.compilePasses = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "bundlebuild",
			Name:      "compile_passes",
			Help:      "Number of compiler passes per stabilized build",
			Buckets:   []float64{1, 2, 3, 4, 5},
		})
		reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.passDuration,
			pr.stageResults, pr.buildOutcome, pr.cacheResults, pr.coalesced, pr.compilePasses)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObservePassDuration(kind string, d time.Duration, success bool) {
	if p == nil || p.passDuration == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	p.passDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncCacheResult(result CacheResultLabel) {
	if p == nil || p.cacheResults == nil {
		return
	}
	p.cacheResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncCoalesced() {
	if p == nil || p.coalesced == nil {
		return
	}
	p.coalesced.Inc()
}

func (p *PrometheusRecorder) ObserveCompilePasses(n int) {
	if p == nil || p.compilePasses == nil {
		return
	}
	p.compilePasses.Observe(float64(n))
}
