package seeder

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.ServerAlias != "demo" {
		t.Fatalf("ServerAlias = %q", cfg.ServerAlias)
	}
	if cfg.CustomerCount <= 0 || cfg.OrderCount <= 0 {
		t.Fatalf("counts = %d/%d", cfg.CustomerCount, cfg.OrderCount)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"DATAPILOT_DEMO_API_URL":        "http://demo.local:18080/",
		"DATAPILOT_DEMO_API_KEY":        "abc",
		"DATAPILOT_DEMO_SERVER_ALIAS":   "sandbox",
		"DATAPILOT_DEMO_DATABASE_PATH":  "/var/lib/datapilot/sandbox.duckdb",
		"DATAPILOT_DEMO_CUSTOMER_COUNT": "12",
		"DATAPILOT_DEMO_ORDER_COUNT":    "99",
		"DATAPILOT_DEMO_SEED":           "12345",
		"DATAPILOT_DEMO_HTTP_TIMEOUT":   "45s",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.APIBaseURL != "http://demo.local:18080" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.APIKey != "abc" {
		t.Fatalf("APIKey = %q", cfg.APIKey)
	}
	if cfg.ServerAlias != "sandbox" {
		t.Fatalf("ServerAlias = %q", cfg.ServerAlias)
	}
	if cfg.DatabasePath != "/var/lib/datapilot/sandbox.duckdb" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.CustomerCount != 12 || cfg.OrderCount != 99 {
		t.Fatalf("counts = %d/%d", cfg.CustomerCount, cfg.OrderCount)
	}
	if cfg.Seed != 12345 {
		t.Fatalf("Seed = %d", cfg.Seed)
	}
	if cfg.HTTPTimeout != 45*time.Second {
		t.Fatalf("HTTPTimeout = %s", cfg.HTTPTimeout)
	}
}

func TestLoadConfigFromEnvRejectsInvalidOrderCount(t *testing.T) {
	_, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"DATAPILOT_DEMO_ORDER_COUNT": "0",
	}))
	if err == nil || !strings.Contains(err.Error(), "DATAPILOT_DEMO_ORDER_COUNT") {
		t.Fatalf("error = %v, want order count validation error", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}
