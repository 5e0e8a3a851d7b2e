// Package report posts lifecycle events to the dashboard's /reports endpoint.
// Delivery is strictly best-effort: the dashboard being down must never break
// a restart, so failures are logged at debug and swallowed.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/antigravity-ops/agctl/internal/logfields"
)

// Event names understood by the dashboard's report processor.
const (
	EventCycleStart    = "CYCLE_START"
	EventCycleComplete = "CYCLE_COMPLETE"
	EventTaskError     = "TASK_ERROR"
)

const defaultTimeout = time.Second

// Reporter is a best-effort HTTP event reporter. A nil *Reporter is valid and
// drops everything, so callers don't have to branch on reporting being
// configured.
type Reporter struct {
	agentID  string
	endpoint string
	client   *http.Client
}

// New creates a reporter for the given dashboard endpoint. An empty endpoint
// yields a nil reporter (reporting disabled).
func New(agentID, endpoint string) *Reporter {
	if endpoint == "" {
		return nil
	}
	return &Reporter{
		agentID:  agentID,
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
}

// CycleStart announces the beginning of a relaunch cycle.
func (r *Reporter) CycleStart(ctx context.Context, cycleID string, fleet []string) {
	r.send(ctx, map[string]any{
		"event":    EventCycleStart,
		"cycle_id": cycleID,
		"fleet":    fleet,
	})
}

// CycleComplete announces the end of a relaunch cycle.
func (r *Reporter) CycleComplete(ctx context.Context, cycleID string, d time.Duration, ok bool) {
	r.send(ctx, map[string]any{
		"event":    EventCycleComplete,
		"cycle_id": cycleID,
		"duration": d.Seconds(),
		"success":  ok,
	})
}

// Error reports a lifecycle failure.
func (r *Reporter) Error(ctx context.Context, message string) {
	r.send(ctx, map[string]any{
		"event": EventTaskError,
		"error": message,
	})
}

func (r *Reporter) send(ctx context.Context, payload map[string]any) {
	if r == nil {
		return
	}
	payload["agent_id"] = r.agentID
	payload["timestamp"] = time.Now().Format(time.RFC3339)

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Debug("Failed to marshal report", logfields.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		slog.Debug("Failed to build report request", logfields.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		slog.Debug("Report delivery failed", "endpoint", r.endpoint, logfields.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Debug("Report rejected", "endpoint", r.endpoint, "status", resp.StatusCode)
	}
}
