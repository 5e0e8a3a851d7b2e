package telemetry

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	maxSamplesPerMetric = 1000
	maxEvents           = 10000
	avgThresholdWindow  = 5 * time.Minute
)

// ThresholdKind selects how a threshold rule is evaluated.
type ThresholdKind string

const (
	ThresholdMax ThresholdKind = "max" // alert when a recorded value exceeds the limit
	ThresholdMin ThresholdKind = "min" // alert when a recorded value falls below the limit
	ThresholdAvg ThresholdKind = "avg" // alert when the 5-minute mean exceeds the limit
)

type sample struct {
	value float64
	at    time.Time
	tags  map[string]string
}

type series struct {
	count   int64
	sum     float64
	min     float64
	max     float64
	samples []sample // bounded ring, newest last
}

// Event is an entry in the bounded event log.
type Event struct {
	Type    string
	Details map[string]any
	At      time.Time
}

// Threshold is an alerting rule attached to a metric.
type Threshold struct {
	Kind    ThresholdKind
	Value   float64
	Message string
}

// Alert records a triggered threshold.
type Alert struct {
	Metric    string
	Value     float64
	Threshold float64
	Message   string
	At        time.Time
}

// Summary aggregates a metric's recent samples.
type Summary struct {
	Name   string
	Count  int
	Sum    float64
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
	P95    float64
	P99    float64
}

// System is an in-process metric/event sink with threshold alerting. It keeps
// running aggregates plus a bounded window of recent samples per metric, and
// a bounded event log. Safe for concurrent use.
type System struct {
	mu         sync.Mutex
	metrics    map[string]*series
	events     []Event
	thresholds map[string]Threshold
	alerts     []Alert
	now        func() time.Time
}

// NewSystem creates an empty telemetry system.
func NewSystem() *System {
	return &System{
		metrics:    make(map[string]*series),
		thresholds: make(map[string]Threshold),
		now:        time.Now,
	}
}

// RecordMetric records one observation of the named metric.
func (s *System) RecordMetric(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	m, ok := s.metrics[name]
	if !ok {
		m = &series{min: math.Inf(1), max: math.Inf(-1)}
		s.metrics[name] = m
	}
	m.count++
	m.sum += value
	m.min = math.Min(m.min, value)
	m.max = math.Max(m.max, value)
	m.samples = append(m.samples, sample{value: value, at: s.now(), tags: tags})
	if len(m.samples) > maxSamplesPerMetric {
		m.samples = m.samples[len(m.samples)-maxSamplesPerMetric:]
	}
	alert := s.checkThresholdLocked(name, value)
	s.mu.Unlock()

	if alert != nil {
		slog.Warn("Telemetry threshold exceeded",
			"metric", alert.Metric, "value", alert.Value, "threshold", alert.Threshold, "message", alert.Message)
	}
}

// RecordEvent appends an entry to the bounded event log.
func (s *System) RecordEvent(eventType string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Type: eventType, Details: details, At: s.now()})
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

// SetThreshold installs an alerting rule for a metric, replacing any previous rule.
func (s *System) SetThreshold(metric string, kind ThresholdKind, value float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds[metric] = Threshold{Kind: kind, Value: value, Message: message}
}

// Alerts returns the alerts triggered so far, oldest first.
func (s *System) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// RecentEvents returns up to n of the newest events, oldest first.
func (s *System) RecentEvents(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.events) {
		n = len(s.events)
	}
	out := make([]Event, n)
	copy(out, s.events[len(s.events)-n:])
	return out
}

// Summary computes aggregate statistics over the metric's retained samples.
// A non-zero window restricts the computation to samples newer than now-window.
// Returns false when the metric is unknown or the window holds no samples.
func (s *System) Summary(name string, window time.Duration) (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked(name, window)
}

// MetricNames returns the names of all recorded metrics, sorted.
func (s *System) MetricNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.metrics))
	for name := range s.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *System) summaryLocked(name string, window time.Duration) (Summary, bool) {
	m, ok := s.metrics[name]
	if !ok {
		return Summary{}, false
	}

	values := make([]float64, 0, len(m.samples))
	var cutoff time.Time
	if window > 0 {
		cutoff = s.now().Add(-window)
	}
	for _, smp := range m.samples {
		if window > 0 && !smp.at.After(cutoff) {
			continue
		}
		values = append(values, smp.value)
	}
	if len(values) == 0 {
		return Summary{}, false
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	if len(values) > 1 {
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(values) - 1)
	}

	return Summary{
		Name:   name,
		Count:  len(values),
		Sum:    sum,
		Mean:   mean,
		Median: percentile(sorted, 50),
		StdDev: math.Sqrt(variance),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P95:    percentile(sorted, 95),
		P99:    percentile(sorted, 99),
	}, true
}

func (s *System) checkThresholdLocked(name string, value float64) *Alert {
	th, ok := s.thresholds[name]
	if !ok {
		return nil
	}

	triggered := false
	switch th.Kind {
	case ThresholdMax:
		triggered = value > th.Value
	case ThresholdMin:
		triggered = value < th.Value
	case ThresholdAvg:
		if summary, ok := s.summaryLocked(name, avgThresholdWindow); ok {
			triggered = summary.Mean > th.Value
		}
	}
	if !triggered {
		return nil
	}

	alert := Alert{Metric: name, Value: value, Threshold: th.Value, Message: th.Message, At: s.now()}
	s.alerts = append(s.alerts, alert)
	return &alert
}

// percentile expects values sorted ascending.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
