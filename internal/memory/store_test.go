package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func task(id, agent, taskType, status string, start time.Time, duration float64) Task {
	return Task{
		ID:          id,
		AgentID:     agent,
		Type:        taskType,
		Description: "task " + id,
		Status:      status,
		StartTime:   start,
		EndTime:     start.Add(time.Duration(duration * float64(time.Second))),
		Duration:    duration,
		Result:      map[string]any{"ok": status == StatusCompleted},
	}
}

func TestStoreTaskAndHistoryOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	now := time.Now()

	require.NoError(t, s.StoreTask(ctx, task("t1", "a1", "shell_commands", StatusCompleted, now, 5.0)))
	require.NoError(t, s.StoreTask(ctx, task("t2", "a1", "shell_commands", StatusCompleted, now, 1.0)))
	require.NoError(t, s.StoreTask(ctx, task("t3", "a1", "shell_commands", StatusFailed, now, 0.5)))
	require.NoError(t, s.StoreTask(ctx, task("t4", "a1", "api_calls", StatusCompleted, now, 2.0)))

	entries, err := s.History(ctx, "shell_commands", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "failed and other-type tasks excluded")
	assert.Equal(t, "task t2", entries[0].Description, "fastest run first")
	assert.InDelta(t, 1.0, entries[0].Duration, 1e-9)
	assert.Equal(t, map[string]any{"ok": true}, entries[0].Result)
}

func TestStoreTaskUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	now := time.Now()

	tk := task("t1", "a1", "general", "running", now, 0)
	require.NoError(t, s.StoreTask(ctx, tk))

	tk.Status = StatusCompleted
	tk.Duration = 3.0
	require.NoError(t, s.StoreTask(ctx, tk))

	entries, err := s.History(ctx, "general", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 3.0, entries[0].Duration, 1e-9)
}

func TestKnowledgeRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.StoreKnowledge(ctx, "fleet.layout", map[string]any{"dashboard": 8765.0}, "deployment"))

	var got map[string]any
	found, err := s.Knowledge(ctx, "fleet.layout", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"dashboard": 8765.0}, got)

	found, err = s.Knowledge(ctx, "absent", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAgentPerformance(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	now := time.Now()

	require.NoError(t, s.StoreTask(ctx, task("t1", "a1", "general", StatusCompleted, now, 2.0)))
	require.NoError(t, s.StoreTask(ctx, task("t2", "a1", "general", StatusCompleted, now, 4.0)))
	require.NoError(t, s.StoreTask(ctx, task("t3", "a1", "general", StatusFailed, now, 6.0)))
	// Outside the window.
	require.NoError(t, s.StoreTask(ctx, task("t4", "a1", "general", StatusCompleted, now.Add(-48*time.Hour), 10.0)))
	// Different agent.
	require.NoError(t, s.StoreTask(ctx, task("t5", "a2", "general", StatusCompleted, now, 1.0)))

	perf, err := s.AgentPerformance(ctx, "a1", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, perf.TotalTasks)
	assert.InDelta(t, 2.0/3.0, perf.SuccessRate, 1e-9)
	assert.InDelta(t, 4.0, perf.AvgDuration, 1e-9)
}

func TestAgentPerformanceEmpty(t *testing.T) {
	s := openTestStore(t)
	perf, err := s.AgentPerformance(t.Context(), "ghost", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Performance{}, perf)
}

func TestPurgeKeepsFailedTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()
	old := time.Now().Add(-60 * 24 * time.Hour)

	require.NoError(t, s.StoreTask(ctx, task("old-ok", "a1", "general", StatusCompleted, old, 1.0)))
	require.NoError(t, s.StoreTask(ctx, task("old-failed", "a1", "general", StatusFailed, old, 1.0)))
	require.NoError(t, s.StoreTask(ctx, task("recent", "a1", "general", StatusCompleted, time.Now(), 1.0)))

	purged, err := s.Purge(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	perf, err := s.AgentPerformance(ctx, "a1", 365*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, perf.TotalTasks, "failed and recent tasks survive the purge")
}

func TestOptimize(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreTask(t.Context(), task("t1", "a1", "general", StatusCompleted, time.Now(), 1.0)))
	require.NoError(t, s.Optimize(t.Context()))
}

func TestAppendConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.AppendConversation(ctx, "sess-1", "user", "restart the fleet"))
	require.NoError(t, s.AppendConversation(ctx, "sess-1", "agent", "done"))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM conversations WHERE session_id = ?", "sess-1").Scan(&count))
	assert.Equal(t, 2, count)
}
