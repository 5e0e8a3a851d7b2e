package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full agctl configuration: the managed fleet plus the
// directory layout and endpoints the lifecycle tooling operates on.
type Config struct {
	Fleet              []Process         `yaml:"fleet"`
	CacheDir           string            `yaml:"cache_dir"`
	CacheMaxSizeMB     int64             `yaml:"cache_max_size_mb"`
	LogDir             string            `yaml:"log_dir"`
	MemoryDB           string            `yaml:"memory_db"`
	ReportEndpoint     string            `yaml:"report_endpoint"`
	CoordinationServer string            `yaml:"coordination_server"`
	AgentID            string            `yaml:"agent_id,omitempty"`
	ListenAddr         string            `yaml:"listen_addr,omitempty"` // daemon health/metrics listener
	StopGrace          time.Duration     `yaml:"stop_grace"`
	Readiness          ReadinessConfig   `yaml:"readiness"`
	Maintenance        MaintenanceConfig `yaml:"maintenance"`
}

// Process describes one managed fleet entry. Port 0 means the process has no
// observable listener and readiness falls back to a fixed startup delay.
type Process struct {
	Name       string        `yaml:"name"`
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args,omitempty"`
	Dir        string        `yaml:"dir,omitempty"`
	Port       int           `yaml:"port,omitempty"`
	LogFile    string        `yaml:"log_file,omitempty"`
	StartDelay time.Duration `yaml:"start_delay,omitempty"`
}

// ReadinessConfig controls how Start waits for a launched process.
type ReadinessConfig struct {
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// MaintenanceConfig controls the scheduled maintenance pass.
type MaintenanceConfig struct {
	Schedule      string        `yaml:"schedule"`       // cron expression
	TaskRetention time.Duration `yaml:"task_retention"` // task_history purge window
	MaxLogSize    int64         `yaml:"max_log_size"`   // bytes before rotation
}

// Load loads configuration from the specified file, layering the
// .antigravityrc environment overlay on top. A missing file is not an error:
// the built-in default fleet (dashboard, coordinator, agent) is returned so
// agctl works out of the box against a stock deployment.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// Expand environment variables in the YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		cfg.applyDefaults()
		cfg.resolvePaths(filepath.Dir(configPath))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config file: %w", err)
	}

	applyEnvOverrides(cfg, loadRCFile(DefaultRCFile))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init creates a new configuration file describing the default fleet.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := "# agctl fleet configuration.\n# Values may reference environment variables as ${VAR}; the .antigravityrc\n# overlay (KEY=VALUE) is applied after this file, process env wins over both.\n"
	if err := os.WriteFile(configPath, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// resolvePaths anchors relative directories against the config file location
// so invoking agctl from elsewhere still targets the same deployment.
func (c *Config) resolvePaths(baseDir string) {
	if baseDir == "" || baseDir == "." {
		return
	}
	if !filepath.IsAbs(c.CacheDir) {
		c.CacheDir = filepath.Join(baseDir, c.CacheDir)
	}
	if !filepath.IsAbs(c.LogDir) {
		c.LogDir = filepath.Join(baseDir, c.LogDir)
	}
	if !filepath.IsAbs(c.MemoryDB) {
		c.MemoryDB = filepath.Join(baseDir, c.MemoryDB)
	}
}

// CacheMaxSizeBytes returns the configured cache ceiling in bytes.
func (c *Config) CacheMaxSizeBytes() int64 {
	return c.CacheMaxSizeMB * 1024 * 1024
}

// ProcessByName returns the fleet entry with the given name, if present.
func (c *Config) ProcessByName(name string) (Process, bool) {
	for _, p := range c.Fleet {
		if p.Name == name {
			return p, true
		}
	}
	return Process{}, false
}
