package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// CacheResultLabel enumerates result cache probe outcomes.
type CacheResultLabel string

const (
	CacheHit    CacheResultLabel = "hit"
	CacheMiss   CacheResultLabel = "miss"
	CacheStale  CacheResultLabel = "stale"
	CacheBypass CacheResultLabel = "bypass"
)

// Recorder defines observability hooks for build and stage metrics. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe for nil receivers
// when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	ObservePassDuration(kind string, d time.Duration, success bool)
	IncStageResult(stage string, result ResultLabel)
	IncBuildOutcome(outcome string) // outcome: success|failed
	IncCacheResult(result CacheResultLabel)
	IncCoalesced()
	ObserveCompilePasses(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)      {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)              {}
func (NoopRecorder) ObservePassDuration(string, time.Duration, bool) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)              {}
func (NoopRecorder) IncBuildOutcome(string)                          {}
func (NoopRecorder) IncCacheResult(CacheResultLabel)                 {}
func (NoopRecorder) IncCoalesced()                                   {}
func (NoopRecorder) ObserveCompilePasses(int)                        {}
