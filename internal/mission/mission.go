// Package mission injects a one-shot task delegation into the coordination
// server, the operator-facing equivalent of an agent delegating work over the
// coordinator websocket.
package mission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antigravity-ops/agctl/internal/logfields"
	"github.com/antigravity-ops/agctl/internal/retry"
)

// Mission describes the task to delegate.
type Mission struct {
	From              string
	To                string
	Type              string
	Description       string
	Command           string
	EstimatedDuration float64 // seconds
}

// Envelope is the TASK_DELEGATION frame the coordinator expects.
type Envelope struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
	Task Task   `json:"task"`
}

// Task is the payload inside a delegation envelope.
type Task struct {
	ID                string  `json:"id"`
	Type              string  `json:"type"`
	Description       string  `json:"description"`
	Command           string  `json:"command,omitempty"`
	EstimatedDuration float64 `json:"estimated_duration,omitempty"`
}

const delegationType = "TASK_DELEGATION"

// Injector sends missions to a coordination server.
type Injector struct {
	serverURL string
	policy    retry.Policy
	dialer    *websocket.Dialer
}

// NewInjector creates an injector for the given ws:// (or wss://) URL.
func NewInjector(serverURL string, policy retry.Policy) *Injector {
	return &Injector{
		serverURL: normalizeWSURL(serverURL),
		policy:    policy,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Inject dials the coordinator, sends one delegation frame, and closes the
// connection. The dial is retried with the configured backoff policy; the
// generated mission ID is returned for the operator to correlate in the
// dashboard.
func (i *Injector) Inject(ctx context.Context, m Mission) (string, error) {
	env := Envelope{
		Type: delegationType,
		From: m.From,
		To:   m.To,
		Task: Task{
			ID:                "mission_" + uuid.NewString()[:8],
			Type:              m.Type,
			Description:       m.Description,
			Command:           m.Command,
			EstimatedDuration: m.EstimatedDuration,
		},
	}

	conn, err := i.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.WriteJSON(env); err != nil {
		return "", fmt.Errorf("send delegation: %w", err)
	}

	// Polite close so the coordinator doesn't log an abnormal disconnect.
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	slog.Info("Mission delegated", "mission_id", env.Task.ID, "to", m.To, "type", m.Type)
	return env.Task.ID, nil
}

func (i *Injector) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		conn, _, err := i.dialer.DialContext(ctx, i.serverURL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt >= i.policy.MaxRetries {
			break
		}
		delay := i.policy.Delay(attempt + 1)
		slog.Debug("Coordination server dial failed, retrying",
			"url", i.serverURL, "attempt", attempt+1, "delay", delay, logfields.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("dial coordination server %s: %w", i.serverURL, lastErr)
}

// normalizeWSURL accepts http(s) endpoints and rewrites them to ws(s), so
// rc-file values copied from the report endpoint still work.
func normalizeWSURL(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	default:
		return u
	}
}
