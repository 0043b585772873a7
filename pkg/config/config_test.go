package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service_name = "order"

[database]
dsn = "user:pass@tcp(localhost:3306)/spot?parseTime=true"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "order" || cfg.Environment != "dev" {
		t.Errorf("service=%s env=%s", cfg.ServiceName, cfg.Environment)
	}
	if cfg.HTTP.Port != 8080 || cfg.Matching.IntervalMs != 1000 || cfg.Matching.BatchSize != 1000 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.Kline.SweepEnabled || !cfg.Publish.BestEffort {
		t.Error("kline/publish defaults not applied")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service_name = "matchingengine"

[http]
port = 8081

[database]
dsn = "user:pass@tcp(localhost:3306)/spot?parseTime=true"

[matching]
interval_ms = 500
lock_timeout_seconds = 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 8081 {
		t.Errorf("port = %d", cfg.HTTP.Port)
	}
	if cfg.Matching.IntervalMs != 500 || cfg.Matching.LockTimeoutSeconds != 30 {
		t.Errorf("matching section not read: %+v", cfg.Matching)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"missing service name", `
[database]
dsn = "user:pass@tcp(localhost:3306)/spot"
`},
		{"missing dsn", `
service_name = "order"
`},
		{"lock timeout not exceeding interval", `
service_name = "matchingengine"

[database]
dsn = "user:pass@tcp(localhost:3306)/spot"

[matching]
interval_ms = 2000
lock_timeout_seconds = 2
`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.toml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
