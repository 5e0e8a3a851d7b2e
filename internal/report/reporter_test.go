package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleStartDelivery(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New("agctl-test", srv.URL+"/reports")
	r.CycleStart(t.Context(), "cycle-1", []string{"dashboard", "coordinator", "agent"})

	select {
	case payload := <-received:
		assert.Equal(t, EventCycleStart, payload["event"])
		assert.Equal(t, "agctl-test", payload["agent_id"])
		assert.Equal(t, "cycle-1", payload["cycle_id"])
		assert.Len(t, payload["fleet"], 3)
		assert.NotEmpty(t, payload["timestamp"])
	case <-time.After(2 * time.Second):
		t.Fatal("report was not delivered")
	}
}

func TestCycleCompletePayload(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
	}))
	defer srv.Close()

	r := New("agctl-test", srv.URL)
	r.CycleComplete(t.Context(), "cycle-2", 1500*time.Millisecond, true)

	payload := <-received
	assert.Equal(t, EventCycleComplete, payload["event"])
	assert.InDelta(t, 1.5, payload["duration"].(float64), 1e-9)
	assert.Equal(t, true, payload["success"])
}

func TestNilReporterIsSafe(t *testing.T) {
	var r *Reporter
	require.NotPanics(t, func() {
		r.CycleStart(t.Context(), "x", nil)
		r.CycleComplete(t.Context(), "x", time.Second, false)
		r.Error(t.Context(), "boom")
	})
}

func TestEmptyEndpointDisablesReporting(t *testing.T) {
	assert.Nil(t, New("agent", ""))
}

func TestUnreachableEndpointDoesNotError(t *testing.T) {
	r := New("agent", "http://127.0.0.1:1/reports")
	require.NotPanics(t, func() {
		r.Error(t.Context(), "unreachable")
	})
}
