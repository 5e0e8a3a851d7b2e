package telemetry

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
)

// PrometheusRecorder implements Recorder on a private Prometheus registry,
// scraped by the daemon's /metrics endpoint.
type PrometheusRecorder struct {
	once                sync.Once
	registry            *prom.Registry
	stageDuration       *prom.HistogramVec
	cycleDuration       prom.Histogram
	stageResults        *prom.CounterVec
	processStart        *prom.HistogramVec
	maintenanceDuration *prom.HistogramVec
	fleetSize           prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "agctl",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual lifecycle stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.cycleDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "agctl",
			Name:      "cycle_duration_seconds",
			Help:      "Total restart cycle duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "agctl",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.processStart = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "agctl",
			Name:      "process_start_duration_seconds",
			Help:      "Time from launch until the process was considered ready",
			Buckets:   prom.DefBuckets,
		}, []string{"process", "ready"})
		pr.maintenanceDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "agctl",
			Name:      "maintenance_task_duration_seconds",
			Help:      "Duration of individual maintenance tasks",
			Buckets:   prom.DefBuckets,
		}, []string{"task"})
		pr.fleetSize = prom.NewGauge(prom.GaugeOpts{
			Namespace: "agctl",
			Name:      "fleet_size",
			Help:      "Number of configured fleet processes",
		})
		reg.MustRegister(pr.stageDuration, pr.cycleDuration, pr.stageResults, pr.processStart, pr.maintenanceDuration, pr.fleetSize)
		reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	})
	return pr
}

// Registry exposes the backing registry for the HTTP handler.
func (p *PrometheusRecorder) Registry() *prom.Registry { return p.registry }

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveCycleDuration(d time.Duration) {
	if p == nil || p.cycleDuration == nil {
		return
	}
	p.cycleDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveProcessStart(name string, d time.Duration, ready bool) {
	if p == nil || p.processStart == nil {
		return
	}
	label := "false"
	if ready {
		label = "true"
	}
	p.processStart.WithLabelValues(name, label).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveMaintenanceDuration(task string, d time.Duration) {
	if p == nil || p.maintenanceDuration == nil {
		return
	}
	p.maintenanceDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetFleetSize(n int) {
	if p == nil || p.fleetSize == nil {
		return
	}
	p.fleetSize.Set(float64(n))
}
