package config

import "testing"

func validConfig() Config {
	return Config{
		Environment:              "development",
		Port:                     3001,
		LogLevel:                 "info",
		LogFormat:                "json",
		TransformBatchSize:       100,
		TransformConcurrentBatch: 5,
		BulkUpsertBatchSize:      500,
	}
}

func TestValidateAcceptsDevelopmentWithoutDatabase(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Port = 0 }},
		{"missing database outside development", func(c *Config) { c.Environment = "production"; c.BingXAPIKey = "k"; c.BingXSecretKey = "s" }},
		{"missing credentials outside demo mode", func(c *Config) { c.Environment = "production"; c.DatabaseURL = "user:pass@tcp(db)/assets" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"zero transform batch", func(c *Config) { c.TransformBatchSize = 0 }},
		{"zero transform concurrency", func(c *Config) { c.TransformConcurrentBatch = 0 }},
		{"zero upsert batch", func(c *Config) { c.BulkUpsertBatchSize = 0 }},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", tc.name)
		}
	}
}

func TestValidateDemoModeRelaxesCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = "production"
	cfg.DatabaseURL = "user:pass@tcp(db)/assets"
	cfg.DemoMode = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected demo mode to tolerate missing credentials: %v", err)
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := validConfig()
	if !cfg.IsDevelopment() {
		t.Fatal("expected development")
	}
	cfg.Environment = "production"
	if cfg.IsDevelopment() {
		t.Fatal("expected non-development")
	}
}
