package maintenance

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-ops/agctl/internal/cache"
	"github.com/antigravity-ops/agctl/internal/config"
	"github.com/antigravity-ops/agctl/internal/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.MemoryDB = filepath.Join(dir, "memory.db")
	cfg.Maintenance.MaxLogSize = 64
	return cfg
}

func TestRunOnEmptyDeployment(t *testing.T) {
	cfg := testConfig(t)
	res, err := NewRunner(cfg, nil).Run(t.Context())
	require.NoError(t, err, "missing cache/memory/logs must not fail")
	assert.Equal(t, 0, res.CacheRemoved)
	assert.Equal(t, int64(0), res.TasksPurged)
	assert.Empty(t, res.LogsRotated)
}

func TestRunSweepsExpiredCacheEntries(t *testing.T) {
	cfg := testConfig(t)

	c, err := cache.Open(cfg.CacheDir, 0)
	require.NoError(t, err)
	require.NoError(t, c.Set("stale", "v", nil, -time.Hour, 1.0))
	require.NoError(t, c.Set("fresh", "v", nil, time.Hour, 1.0))
	require.NoError(t, c.Close())

	res, err := NewRunner(cfg, nil).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, res.CacheRemoved)
	assert.Greater(t, res.CacheBytesFreed, int64(0))
}

func TestRunPurgesOldTasks(t *testing.T) {
	cfg := testConfig(t)

	store, err := memory.Open(cfg.MemoryDB)
	require.NoError(t, err)
	old := time.Now().Add(-45 * 24 * time.Hour)
	require.NoError(t, store.StoreTask(t.Context(), memory.Task{
		ID: "ancient", AgentID: "a1", Type: "general", Status: memory.StatusCompleted,
		StartTime: old, EndTime: old, Duration: 1,
	}))
	require.NoError(t, store.StoreTask(t.Context(), memory.Task{
		ID: "recent", AgentID: "a1", Type: "general", Status: memory.StatusCompleted,
		StartTime: time.Now(), EndTime: time.Now(), Duration: 1,
	}))
	require.NoError(t, store.Close())

	res, err := NewRunner(cfg, nil).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TasksPurged)
}

func TestRunRotatesOversizedLogs(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.LogDir, 0o755))

	big := bytes.Repeat([]byte("x"), 128)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.LogDir, "dashboard.log"), big, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.LogDir, "agent.log"), []byte("small"), 0o644))

	res, err := NewRunner(cfg, nil).Run(t.Context())
	require.NoError(t, err)
	require.Len(t, res.LogsRotated, 1)
	assert.Contains(t, res.LogsRotated[0], "dashboard_")
	assert.Contains(t, res.LogsRotated[0], ".log.old")

	// The original file is gone, the small one untouched.
	_, err = os.Stat(filepath.Join(cfg.LogDir, "dashboard.log"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.LogDir, "agent.log"))
	assert.NoError(t, err)
}

func TestRunReportsDuration(t *testing.T) {
	cfg := testConfig(t)
	res, err := NewRunner(cfg, nil).Run(t.Context())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))
}
