package telemetry

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultSkipped  ResultLabel = "skipped"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for lifecycle and maintenance work.
// Implementations may forward to Prometheus or the in-process System. All
// methods must be safe on the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	ObserveCycleDuration(d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveProcessStart(name string, d time.Duration, ready bool)
	ObserveMaintenanceDuration(task string, d time.Duration)
	SetFleetSize(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)       {}
func (NoopRecorder) ObserveCycleDuration(time.Duration)               {}
func (NoopRecorder) IncStageResult(string, ResultLabel)               {}
func (NoopRecorder) ObserveProcessStart(string, time.Duration, bool)  {}
func (NoopRecorder) ObserveMaintenanceDuration(string, time.Duration) {}
func (NoopRecorder) SetFleetSize(int)                                 {}
