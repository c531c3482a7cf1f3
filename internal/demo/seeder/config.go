package seeder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	APIBaseURL    string
	APIKey        string
	ServerAlias   string
	DatabasePath  string
	CustomerCount int
	OrderCount    int
	Seed          int64
	HTTPTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:    "http://localhost:8080",
		APIKey:        "",
		ServerAlias:   "demo",
		DatabasePath:  "./demo.duckdb",
		CustomerCount: 50,
		OrderCount:    500,
		Seed:          time.Now().UTC().UnixNano(),
		HTTPTimeout:   30 * time.Second,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "DATAPILOT_DEMO_API_URL", &cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATAPILOT_DEMO_API_KEY", &cfg.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATAPILOT_DEMO_SERVER_ALIAS", &cfg.ServerAlias); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DATAPILOT_DEMO_DATABASE_PATH", &cfg.DatabasePath); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DATAPILOT_DEMO_CUSTOMER_COUNT", &cfg.CustomerCount); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DATAPILOT_DEMO_ORDER_COUNT", &cfg.OrderCount); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "DATAPILOT_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DATAPILOT_DEMO_HTTP_TIMEOUT", &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return Config{}, fmt.Errorf("DATAPILOT_DEMO_API_URL is required")
	}
	if strings.TrimSpace(cfg.ServerAlias) == "" {
		return Config{}, fmt.Errorf("DATAPILOT_DEMO_SERVER_ALIAS is required")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return Config{}, fmt.Errorf("DATAPILOT_DEMO_DATABASE_PATH is required")
	}
	if cfg.CustomerCount <= 0 {
		return Config{}, fmt.Errorf("DATAPILOT_DEMO_CUSTOMER_COUNT must be > 0")
	}
	if cfg.OrderCount <= 0 {
		return Config{}, fmt.Errorf("DATAPILOT_DEMO_ORDER_COUNT must be > 0")
	}
	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("DATAPILOT_DEMO_HTTP_TIMEOUT must be > 0")
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.ServerAlias = strings.TrimSpace(cfg.ServerAlias)
	cfg.DatabasePath = strings.TrimSpace(cfg.DatabasePath)
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
