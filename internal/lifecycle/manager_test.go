package lifecycle

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-ops/agctl/internal/config"
	"github.com/antigravity-ops/agctl/internal/telemetry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Fleet:          nil,
		CacheDir:       filepath.Join(dir, "cache"),
		CacheMaxSizeMB: 10,
		LogDir:         filepath.Join(dir, "logs"),
		MemoryDB:       filepath.Join(dir, "memory.db"),
		StopGrace:      100 * time.Millisecond,
		Readiness: config.ReadinessConfig{
			ProbeTimeout:  300 * time.Millisecond,
			ProbeInterval: 20 * time.Millisecond,
		},
	}
}

// freePort reserves an ephemeral port and releases it so nothing listens.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStartWritesProcessOutputToLogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet = []config.Process{{
		Name:       "echoer",
		Command:    "sh",
		Args:       []string{"-c", "echo lifecycle-output"},
		LogFile:    "echoer.log",
		StartDelay: 150 * time.Millisecond,
	}}

	m := NewManager(cfg)
	require.NoError(t, m.Start(t.Context()))

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "echoer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "lifecycle-output")
}

func TestStartAppendsAcrossRuns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet = []config.Process{{
		Name:       "echoer",
		Command:    "sh",
		Args:       []string{"-c", "echo run"},
		StartDelay: 150 * time.Millisecond,
	}}

	m := NewManager(cfg)
	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.Start(t.Context()))

	// Default log file name derives from the process name.
	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "echoer.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, countOccurrences(string(data), "run"))
}

func countOccurrences(s, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}
	return n
}

func TestStartUnknownCommandFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet = []config.Process{{
		Name:    "ghost",
		Command: "definitely-not-a-real-binary-xyz",
	}}

	err := NewManager(cfg).Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestStartFailureDoesNotAbortFleet(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet = []config.Process{
		{Name: "ghost", Command: "definitely-not-a-real-binary-xyz"},
		{Name: "echoer", Command: "sh", Args: []string{"-c", "echo survived"}, StartDelay: 150 * time.Millisecond},
	}

	err := NewManager(cfg).Start(t.Context())
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "echoer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "survived")
}

func TestWaitReadyProbesPort(t *testing.T) {
	// Hold a listener open ourselves; the probe only cares that the port
	// accepts connections.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := testConfig(t)
	cfg.Fleet = []config.Process{{
		Name:    "listener",
		Command: "sleep",
		Args:    []string{"5"},
		Port:    port,
	}}

	start := time.Now()
	require.NoError(t, NewManager(cfg).Start(t.Context()))
	assert.Less(t, time.Since(start), cfg.Readiness.ProbeTimeout)
}

func TestWaitReadyTimesOutAndNamesLogFile(t *testing.T) {
	cfg := testConfig(t)
	port := freePort(t)
	cfg.Fleet = []config.Process{{
		Name:    "never-ready",
		Command: "sleep",
		Args:    []string{"5"},
		Port:    port,
	}}

	err := NewManager(cfg).Start(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never-ready")
	assert.Contains(t, err.Error(), strconv.Itoa(port))
	assert.Contains(t, err.Error(), "never-ready.log")
}

func TestStopSkipsFreePorts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet = []config.Process{
		{Name: "dashboard", Command: "true", Port: freePort(t)},
		{Name: "coordinator", Command: "true", Port: freePort(t)},
		{Name: "agent", Command: "true"},
	}

	require.NoError(t, NewManager(cfg).Stop(t.Context()))
}

func TestClearCacheRecreatesDirectory(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.CacheDir, "stale.json"), []byte("{}"), 0o644))

	require.NoError(t, NewManager(cfg).ClearCache())

	entries, err := os.ReadDir(cfg.CacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestartRunsFullCycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet = []config.Process{{
		Name:       "echoer",
		Command:    "sh",
		Args:       []string{"-c", "echo cycled"},
		StartDelay: 150 * time.Millisecond,
	}}
	require.NoError(t, os.MkdirAll(cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.CacheDir, "stale.json"), []byte("{}"), 0o644))

	sys := telemetry.NewSystem()
	m := NewManager(cfg).WithRecorder(sys)
	require.NoError(t, m.Restart(t.Context(), false))

	entries, err := os.ReadDir(cfg.CacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "cache should be wiped by the cycle")

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "echoer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycled")
}

func TestRestartKeepCachePreservesEntries(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet = []config.Process{{
		Name:    "echoer",
		Command: "sh",
		Args:    []string{"-c", "echo cycled"},
	}}
	require.NoError(t, os.MkdirAll(cfg.CacheDir, 0o755))
	keep := filepath.Join(cfg.CacheDir, "warm.json")
	require.NoError(t, os.WriteFile(keep, []byte("{}"), 0o644))

	require.NoError(t, NewManager(cfg).Restart(t.Context(), true))

	_, err := os.Stat(keep)
	assert.NoError(t, err)
}

func TestStatusReportsListenerAndLog(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := testConfig(t)
	cfg.Fleet = []config.Process{
		{Name: "dashboard", Command: "true", Port: port, LogFile: "dashboard.log"},
		{Name: "agent", Command: "true"},
	}
	require.NoError(t, os.MkdirAll(cfg.LogDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.LogDir, "dashboard.log"), []byte("boot\n"), 0o644))

	statuses, err := NewManager(cfg).Status(t.Context())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.True(t, statuses[0].Listening)
	assert.Equal(t, int32(os.Getpid()), statuses[0].PID)
	assert.Equal(t, int64(5), statuses[0].LogSize)

	assert.False(t, statuses[1].Listening)
	assert.Zero(t, statuses[1].PID)
}
