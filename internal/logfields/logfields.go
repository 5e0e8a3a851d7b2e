package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyProcess    = "process"
	KeyPort       = "port"
	KeyPID        = "pid"
	KeyCycleID    = "cycle_id"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyLogFile    = "log_file"
	KeyAgent      = "agent_id"
	KeySchedule   = "schedule"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Process(name string) slog.Attr    { return slog.String(KeyProcess, name) }
func Port(p int) slog.Attr             { return slog.Int(KeyPort, p) }
func PID(pid int32) slog.Attr          { return slog.Int(KeyPID, int(pid)) }
func CycleID(id string) slog.Attr      { return slog.String(KeyCycleID, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func LogFile(path string) slog.Attr    { return slog.String(KeyLogFile, path) }
func Agent(id string) slog.Attr        { return slog.String(KeyAgent, id) }
func Schedule(spec string) slog.Attr   { return slog.String(KeySchedule, spec) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
