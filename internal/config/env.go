package config

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// loadRCFile reads the .antigravityrc KEY=VALUE overlay. A missing or
// unreadable file yields an empty overlay; the rc file has always been
// optional in this deployment.
func loadRCFile(path string) map[string]string {
	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Skipping rc file", "path", path, "error", err)
		}
		return nil
	}
	slog.Debug("Loaded rc overlay", "path", path, "keys", len(values))
	return values
}

// applyEnvOverrides layers rc-file values and process environment over the
// config. Process env wins over the rc file; both win over the YAML file.
// Key names match the original .antigravityrc contract.
func applyEnvOverrides(c *Config, rc map[string]string) {
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := rc[key]
		return v, ok && v != ""
	}

	if v, ok := lookup("AGENT_ID"); ok {
		c.AgentID = v
	}
	if v, ok := lookup("CACHE_DIR"); ok {
		c.CacheDir = v
	}
	if v, ok := lookup("CACHE_MAX_SIZE_MB"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.CacheMaxSizeMB = n
		} else {
			slog.Warn("Ignoring invalid CACHE_MAX_SIZE_MB override", "value", v)
		}
	}
	if v, ok := lookup("MEMORY_DB_PATH"); ok {
		c.MemoryDB = v
	}
	if v, ok := lookup("LOG_DIR"); ok {
		c.LogDir = v
	}
	if v, ok := lookup("REPORT_ENDPOINT"); ok {
		c.ReportEndpoint = v
	}
	if v, ok := lookup("COORDINATION_SERVER"); ok {
		c.CoordinationServer = v
	}
}
