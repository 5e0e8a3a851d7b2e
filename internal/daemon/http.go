package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antigravity-ops/agctl/internal/logfields"
	"github.com/antigravity-ops/agctl/internal/version"
)

// HealthStatus is the overall daemon health classification.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// HealthCheck is one named probe inside the health response.
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("GET /telemetry", d.handleTelemetry)
	mux.HandleFunc("POST /maintenance", d.handleMaintenance)
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.prom.Registry(), promhttp.HandlerOpts{}))
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := d.performHealthChecks(r.Context())
	code := http.StatusOK
	if resp.Status != HealthStatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := d.manager().Status(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (d *Daemon) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":        d.sys.Alerts(),
		"recent_events": d.sys.RecentEvents(50),
		"metrics":       d.sys.MetricNames(),
	})
}

// handleMaintenance triggers a maintenance pass outside the schedule.
func (d *Daemon) handleMaintenance(w http.ResponseWriter, _ *http.Request) {
	go d.runMaintenance()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "maintenance started"})
}

func (d *Daemon) performHealthChecks(ctx context.Context) *HealthResponse {
	resp := &HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(d.startTime).Truncate(time.Second).String(),
		Version:   version.Version,
	}

	fleetCheck := HealthCheck{Name: "fleet", Status: HealthStatusHealthy}
	statuses, err := d.manager().Status(ctx)
	switch {
	case err != nil:
		fleetCheck.Status = HealthStatusDegraded
		fleetCheck.Message = err.Error()
	default:
		down := 0
		for _, st := range statuses {
			if st.Port != 0 && !st.Listening {
				down++
			}
		}
		if down > 0 {
			fleetCheck.Status = HealthStatusDegraded
			fleetCheck.Message = "one or more fleet ports have no listener"
		}
	}
	resp.Checks = append(resp.Checks, fleetCheck)

	alertCheck := HealthCheck{Name: "telemetry_alerts", Status: HealthStatusHealthy}
	if n := len(d.sys.Alerts()); n > 0 {
		alertCheck.Status = HealthStatusDegraded
		alertCheck.Message = "active telemetry alerts"
	}
	resp.Checks = append(resp.Checks, alertCheck)

	for _, c := range resp.Checks {
		if c.Status != HealthStatusHealthy {
			resp.Status = HealthStatusDegraded
			break
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", logfields.Error(err))
	}
}
