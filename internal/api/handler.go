package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datapilot/datapilot/internal/config"
	"github.com/datapilot/datapilot/internal/export"
	"github.com/datapilot/datapilot/internal/gateway"
	"github.com/datapilot/datapilot/internal/observability"
	"github.com/datapilot/datapilot/internal/sqlgen"
	"github.com/datapilot/datapilot/internal/store"
)

type ReadinessCheck func(ctx context.Context) error

// TargetGateway is the slice of gateway behavior the handlers need.
type TargetGateway interface {
	Query(ctx context.Context, server store.Server, database, query string) (gateway.Result, error)
	ExecBatch(ctx context.Context, server store.Server, database string, queries []string) (int64, error)
	ListTables(ctx context.Context, server store.Server, database string) ([]string, error)
	BrowseTable(ctx context.Context, server store.Server, database, table string, limit int) (gateway.Result, error)
	ListDatabases(ctx context.Context, server store.Server) ([]string, error)
	CreateDatabase(ctx context.Context, server store.Server, name string) error
	DropDatabase(ctx context.Context, server store.Server, name string) error
	Schema(ctx context.Context, server store.Server, database string) (string, error)
	TestConnection(ctx context.Context, server store.Server, database string) error
	ClosePoolsForServer(serverID string)
}

// SQLGenerator produces SQL and chart suggestions from prompts.
type SQLGenerator interface {
	Generate(ctx context.Context, prompt, schema string, errorHistory []string, attempt int) (sqlgen.Generation, []string, error)
	GenerateChained(ctx context.Context, stepPrompt, schema string, previousResults []map[string]any) (sqlgen.Generation, error)
	AnalyzeQueryType(ctx context.Context, prompt string) sqlgen.QueryAnalysis
	GenerateVisuals(ctx context.Context, results []map[string]any, originalPrompt string) []sqlgen.Visualization
}

// ResultExporter uploads result sets to the object store.
type ResultExporter interface {
	Export(ctx context.Context, serverAlias, databaseName string, result gateway.Result) (export.Info, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Repo              store.Repository
	Gateway           TargetGateway
	Generator         SQLGenerator
	Exporter          ResultExporter
	QueryCfg          config.QueryConfig
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/servers", func(w http.ResponseWriter, r *http.Request) {
		handleListServers(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers", func(w http.ResponseWriter, r *http.Request) {
		handleCreateServer(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/servers/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteServer(deps, w, r)
	})
	protected.HandleFunc("GET /v1/servers/{id}/databases", func(w http.ResponseWriter, r *http.Request) {
		handleListDatabases(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers/{id}/databases", func(w http.ResponseWriter, r *http.Request) {
		handleManageDatabase(deps, w, r)
	})
	protected.HandleFunc("POST /v1/servers/{id}/select", func(w http.ResponseWriter, r *http.Request) {
		handleSelectServer(deps, w, r)
	})

	protected.HandleFunc("GET /v1/tables/{server}", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})
	protected.HandleFunc("GET /v1/tables/{server}/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleBrowseTable(deps, w, r)
	})

	protected.HandleFunc("POST /v1/sql", func(w http.ResponseWriter, r *http.Request) {
		handleExecuteSQL(deps, w, r)
	})
	protected.HandleFunc("POST /v1/sql/batch", func(w http.ResponseWriter, r *http.Request) {
		handleBatchSQL(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})

	protected.HandleFunc("GET /v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		handleListConversations(deps, w, r)
	})
	protected.HandleFunc("POST /v1/conversations", func(w http.ResponseWriter, r *http.Request) {
		handleCreateConversation(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteConversation(deps, w, r)
	})

	protected.HandleFunc("POST /v1/exports", func(w http.ResponseWriter, r *http.Request) {
		handleCreateExport(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, route := range []string{
		"GET /v1/servers",
		"POST /v1/servers",
		"DELETE /v1/servers/{id}",
		"GET /v1/servers/{id}/databases",
		"POST /v1/servers/{id}/databases",
		"POST /v1/servers/{id}/select",
		"GET /v1/tables/{server}",
		"GET /v1/tables/{server}/{table}",
		"POST /v1/sql",
		"POST /v1/sql/batch",
		"POST /v1/query",
		"GET /v1/conversations",
		"POST /v1/conversations",
		"DELETE /v1/conversations/{id}",
		"POST /v1/exports",
	} {
		mux.Handle(route, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCatalogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.DSN == "" {
			return errors.New("catalog dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
