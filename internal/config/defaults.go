package config

import "time"

// Defaults mirror the stock AntiGravity deployment: dashboard on 8765,
// coordinator websocket on 8766, agent with no listener.
const (
	DefaultConfigFile = "antigravity.yaml"
	DefaultRCFile     = ".antigravityrc"

	DefaultCacheDir       = ".antigravity-cache"
	DefaultLogDir         = "logs"
	DefaultMemoryDB       = "antigravity-memory.db"
	DefaultReportEndpoint = "http://localhost:8765/reports"
	DefaultCoordination   = "ws://localhost:8766"
	DefaultListenAddr     = "127.0.0.1:9765"

	DefaultDashboardPort   = 8765
	DefaultCoordinatorPort = 8766

	DefaultCacheMaxSizeMB = 500
	DefaultMaxLogSize     = 10 * 1024 * 1024

	// Nightly run, matching the original 3:00 AM maintenance window.
	DefaultMaintenanceSchedule = "0 3 * * *"
	DefaultTaskRetention       = 30 * 24 * time.Hour

	DefaultStopGrace     = 5 * time.Second
	DefaultProbeTimeout  = 30 * time.Second
	DefaultProbeInterval = 500 * time.Millisecond
)

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Fleet: []Process{
			{
				Name:    "dashboard",
				Command: "python3",
				Args:    []string{"backend/dashboard_server.py"},
				Port:    DefaultDashboardPort,
				LogFile: "dashboard.log",
			},
			{
				Name:    "coordinator",
				Command: "python3",
				Args:    []string{"master_coordinator.py"},
				Port:    DefaultCoordinatorPort,
				LogFile: "coordinator.log",
			},
			{
				Name:       "agent",
				Command:    "python3",
				Args:       []string{"run_agent.py"},
				LogFile:    "agent.log",
				StartDelay: 2 * time.Second,
			},
		},
		CacheDir:           DefaultCacheDir,
		CacheMaxSizeMB:     DefaultCacheMaxSizeMB,
		LogDir:             DefaultLogDir,
		MemoryDB:           DefaultMemoryDB,
		ReportEndpoint:     DefaultReportEndpoint,
		CoordinationServer: DefaultCoordination,
		ListenAddr:         DefaultListenAddr,
		StopGrace:          DefaultStopGrace,
		Readiness: ReadinessConfig{
			ProbeTimeout:  DefaultProbeTimeout,
			ProbeInterval: DefaultProbeInterval,
		},
		Maintenance: MaintenanceConfig{
			Schedule:      DefaultMaintenanceSchedule,
			TaskRetention: DefaultTaskRetention,
			MaxLogSize:    DefaultMaxLogSize,
		},
	}
}

// applyDefaults fills zero values left after unmarshalling a partial file.
func (c *Config) applyDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.CacheMaxSizeMB <= 0 {
		c.CacheMaxSizeMB = DefaultCacheMaxSizeMB
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.MemoryDB == "" {
		c.MemoryDB = DefaultMemoryDB
	}
	if c.ReportEndpoint == "" {
		c.ReportEndpoint = DefaultReportEndpoint
	}
	if c.CoordinationServer == "" {
		c.CoordinationServer = DefaultCoordination
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.Readiness.ProbeTimeout <= 0 {
		c.Readiness.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Readiness.ProbeInterval <= 0 {
		c.Readiness.ProbeInterval = DefaultProbeInterval
	}
	if c.Maintenance.Schedule == "" {
		c.Maintenance.Schedule = DefaultMaintenanceSchedule
	}
	if c.Maintenance.TaskRetention <= 0 {
		c.Maintenance.TaskRetention = DefaultTaskRetention
	}
	if c.Maintenance.MaxLogSize <= 0 {
		c.Maintenance.MaxLogSize = DefaultMaxLogSize
	}
	if len(c.Fleet) == 0 {
		c.Fleet = Default().Fleet
	}
	for i := range c.Fleet {
		if c.Fleet[i].LogFile == "" {
			c.Fleet[i].LogFile = c.Fleet[i].Name + ".log"
		}
	}
}
