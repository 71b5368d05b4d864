package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is master", func(c *Config) bool { return c.Mode == "master" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default metrics path", func(c *Config) bool { return c.MetricsPath == "/metrics" }},
		{"default maintenance interval is 60s", func(c *Config) bool { return c.MaintenanceInterval.Seconds() == 60 }},
		{"default worker count", func(c *Config) bool { return c.WorkerCount == 100 }},
		{"default target fallback mode", func(c *Config) bool { return c.TargetFallbackMode == "email" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("default check failed for %s", tt.name)
			}
		})
	}
}
