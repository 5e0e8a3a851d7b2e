package telemetry

import "time"

// System implements Recorder by mapping lifecycle hooks onto named metrics,
// so one-shot CLI runs get summaries without a Prometheus listener.

func (s *System) ObserveStageDuration(stage string, d time.Duration) {
	s.RecordMetric("cycle."+stage+".duration", d.Seconds(), nil)
}

func (s *System) ObserveCycleDuration(d time.Duration) {
	s.RecordMetric("cycle.duration", d.Seconds(), nil)
}

func (s *System) IncStageResult(stage string, result ResultLabel) {
	s.RecordMetric("cycle."+stage+"."+string(result), 1, nil)
}

func (s *System) ObserveProcessStart(name string, d time.Duration, ready bool) {
	tags := map[string]string{"ready": "false"}
	if ready {
		tags["ready"] = "true"
	}
	s.RecordMetric("process."+name+".start_duration", d.Seconds(), tags)
}

func (s *System) ObserveMaintenanceDuration(task string, d time.Duration) {
	s.RecordMetric("maintenance."+task+".duration", d.Seconds(), nil)
}

func (s *System) SetFleetSize(n int) {
	s.RecordMetric("fleet.size", float64(n), nil)
}
