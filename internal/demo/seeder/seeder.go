// Package seeder registers a local DuckDB demo server with a running
// DataPilot API and loads it with a small retail dataset, giving new
// installs something to query right away.
package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	generator *Generator
}

type serverCreateRequest struct {
	Alias           string `json:"alias"`
	DBType          string `json:"db_type"`
	DefaultDatabase string `json:"default_database"`
}

type serverListResponse struct {
	Servers []struct {
		Alias string `json:"alias"`
	} `json:"servers"`
}

type batchRequest struct {
	ServerAlias string   `json:"server"`
	SQLQueries  []string `json:"sql_queries"`
}

func NewService(cfg Config, logger *slog.Logger, client *http.Client) (*Service, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if strings.TrimSpace(cfg.ServerAlias) == "" {
		return nil, fmt.Errorf("server alias is required")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed, cfg.CustomerCount),
	}, nil
}

// Run registers the demo server if needed and loads the dataset.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureServer(ctx); err != nil {
		return err
	}
	return s.seed(ctx)
}

func (s *Service) ensureServer(ctx context.Context) error {
	var listed serverListResponse
	status, body, err := s.doJSON(ctx, http.MethodGet, "/v1/servers", nil, &listed)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("list servers failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}
	for _, server := range listed.Servers {
		if server.Alias == s.cfg.ServerAlias {
			s.log.Info("demo server already registered", slog.String("alias", s.cfg.ServerAlias))
			return nil
		}
	}

	req := serverCreateRequest{
		Alias:           s.cfg.ServerAlias,
		DBType:          "duckdb",
		DefaultDatabase: s.cfg.DatabasePath,
	}
	status, body, err = s.doJSON(ctx, http.MethodPost, "/v1/servers", req, nil)
	if err != nil {
		return fmt.Errorf("register demo server: %w", err)
	}
	if status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("register demo server failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}
	s.log.Info("registered demo server",
		slog.String("alias", s.cfg.ServerAlias),
		slog.String("database", s.cfg.DatabasePath))
	return nil
}

func (s *Service) seed(ctx context.Context) error {
	queries := s.buildSeedQueries()
	req := batchRequest{ServerAlias: s.cfg.ServerAlias, SQLQueries: queries}

	status, body, err := s.doJSON(ctx, http.MethodPost, "/v1/sql/batch", req, nil)
	if err != nil {
		return fmt.Errorf("seed batch failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("seed batch status %d: %s", status, strings.TrimSpace(string(body)))
	}

	s.log.Info("demo dataset loaded",
		slog.String("alias", s.cfg.ServerAlias),
		slog.Int("customers", s.cfg.CustomerCount),
		slog.Int("orders", s.cfg.OrderCount),
		slog.Int("statements", len(queries)))
	return nil
}

const seedInsertBatch = 100

func (s *Service) buildSeedQueries() []string {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS customers (
    customer_id BIGINT PRIMARY KEY,
    name VARCHAR NOT NULL,
    country VARCHAR NOT NULL,
    signed_up_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS orders (
    order_id BIGINT PRIMARY KEY,
    customer_id BIGINT NOT NULL,
    status VARCHAR NOT NULL,
    amount DOUBLE NOT NULL,
    currency VARCHAR NOT NULL,
    device VARCHAR NOT NULL,
    placed_at TIMESTAMP NOT NULL
)`,
		"DELETE FROM orders",
		"DELETE FROM customers",
	}

	customerValues := make([]string, 0, s.cfg.CustomerCount)
	for _, customer := range s.generator.Customers() {
		customerValues = append(customerValues, fmt.Sprintf("(%d, '%s', '%s', '%s')",
			customer.ID,
			customer.Name,
			customer.Country,
			customer.SignedUpAt.Format("2006-01-02 15:04:05")))
	}
	queries = append(queries, batchInserts("INSERT INTO customers (customer_id, name, country, signed_up_at) VALUES ", customerValues)...)

	orderValues := make([]string, 0, s.cfg.OrderCount)
	for i := 0; i < s.cfg.OrderCount; i++ {
		order := s.generator.NextOrder()
		orderValues = append(orderValues, fmt.Sprintf("(%d, %d, '%s', %.2f, '%s', '%s', '%s')",
			order.ID,
			order.CustomerID,
			order.Status,
			order.Amount,
			order.Currency,
			order.Device,
			order.PlacedAt.Format("2006-01-02 15:04:05")))
	}
	queries = append(queries, batchInserts("INSERT INTO orders (order_id, customer_id, status, amount, currency, device, placed_at) VALUES ", orderValues)...)

	return queries
}

func batchInserts(prefix string, values []string) []string {
	statements := make([]string, 0, (len(values)+seedInsertBatch-1)/seedInsertBatch)
	for start := 0; start < len(values); start += seedInsertBatch {
		end := start + seedInsertBatch
		if end > len(values) {
			end = len(values)
		}
		statements = append(statements, prefix+strings.Join(values[start:end], ", "))
	}
	return statements
}

func (s *Service) doJSON(ctx context.Context, method, path string, requestBody any, responseBody any) (int, []byte, error) {
	var payload io.Reader
	if requestBody != nil {
		raw, err := json.Marshal(requestBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	if responseBody != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}
