package config

import "fmt"

// Validate rejects configurations the lifecycle manager cannot act on.
func (c *Config) Validate() error {
	if len(c.Fleet) == 0 {
		return fmt.Errorf("fleet must define at least one process")
	}

	names := make(map[string]struct{}, len(c.Fleet))
	ports := make(map[int]string, len(c.Fleet))
	for _, p := range c.Fleet {
		if p.Name == "" {
			return fmt.Errorf("fleet process missing name")
		}
		if p.Command == "" {
			return fmt.Errorf("fleet process %q missing command", p.Name)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("duplicate fleet process name %q", p.Name)
		}
		names[p.Name] = struct{}{}

		if p.Port < 0 || p.Port > 65535 {
			return fmt.Errorf("fleet process %q has invalid port %d", p.Name, p.Port)
		}
		if p.Port != 0 {
			if other, dup := ports[p.Port]; dup {
				return fmt.Errorf("fleet processes %q and %q share port %d", other, p.Name, p.Port)
			}
			ports[p.Port] = p.Name
		}
		if p.StartDelay < 0 {
			return fmt.Errorf("fleet process %q has negative start delay", p.Name)
		}
	}

	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log_dir must not be empty")
	}
	return nil
}
