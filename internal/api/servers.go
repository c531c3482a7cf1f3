package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datapilot/datapilot/internal/store"
)

type serverCreateRequest struct {
	Alias           string `json:"alias"`
	DBType          string `json:"db_type"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	DefaultDatabase string `json:"default_database"`
}

type databaseManageRequest struct {
	DatabaseName string `json:"database_name"`
	Operation    string `json:"operation"`
}

// serverView omits the stored password.
func serverView(server store.Server) map[string]any {
	return map[string]any{
		"id":               server.ServerID,
		"alias":            server.Alias,
		"db_type":          string(server.DBType),
		"host":             server.Host,
		"port":             server.Port,
		"username":         server.Username,
		"default_database": server.DefaultDatabase,
		"created_at":       server.CreatedAt,
	}
}

func handleListServers(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_reader", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	servers, err := deps.Repo.ListServers(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list servers", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(servers))
	for _, server := range servers {
		items = append(items, serverView(server))
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": items})
}

func handleCreateServer(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req serverCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid create server request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Alias) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "ALIAS_REQUIRED", "alias is required", false, nil)
		return
	}
	dbType := store.DBType(req.DBType)
	if !dbType.Valid() {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DB_TYPE", "db_type must be postgresql, mysql or duckdb", false, nil)
		return
	}
	if dbType != store.DBTypeDuckDB && (strings.TrimSpace(req.Host) == "" || req.Port <= 0) {
		writeError(r.Context(), w, http.StatusBadRequest, "HOST_REQUIRED", "host and port are required for network servers", false, nil)
		return
	}
	if dbType == store.DBTypeDuckDB && strings.TrimSpace(req.DefaultDatabase) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PATH_REQUIRED", "default_database must hold the duckdb file path", false, nil)
		return
	}

	if _, err := deps.Repo.GetServerByAlias(r.Context(), req.Alias); err == nil {
		writeError(r.Context(), w, http.StatusConflict, "ALIAS_EXISTS", "a server with this alias already exists", false, nil)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to check alias", true, map[string]any{"details": err.Error()})
		return
	}

	server, err := deps.Repo.CreateServer(r.Context(), store.CreateServerInput{
		ServerID:        uuid.NewString(),
		Alias:           strings.TrimSpace(req.Alias),
		DBType:          dbType,
		Host:            strings.TrimSpace(req.Host),
		Port:            req.Port,
		Username:        req.Username,
		Password:        req.Password,
		DefaultDatabase: strings.TrimSpace(req.DefaultDatabase),
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to register server", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, serverView(server))
}

func handleDeleteServer(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	serverID := r.PathValue("id")
	deleted, err := deps.Repo.DeleteServer(r.Context(), serverID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete server", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "SERVER_NOT_FOUND", "server does not exist", false, nil)
		return
	}
	deps.Gateway.ClosePoolsForServer(serverID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": serverID})
}

func handleListDatabases(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_reader", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	server, ok := serverByID(deps, w, r)
	if !ok {
		return
	}
	databases, err := deps.Gateway.ListDatabases(r.Context(), server)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TARGET_ERROR", "failed to list databases", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": databases})
}

func handleManageDatabase(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	server, ok := serverByID(deps, w, r)
	if !ok {
		return
	}

	var req databaseManageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid database request body", false, map[string]any{"details": err.Error()})
		return
	}

	switch req.Operation {
	case "create":
		if err := deps.Gateway.CreateDatabase(r.Context(), server, req.DatabaseName); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_OP_FAILED", err.Error(), false, nil)
			return
		}
	case "drop", "delete":
		if err := deps.Gateway.DropDatabase(r.Context(), server, req.DatabaseName); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_OP_FAILED", err.Error(), false, nil)
			return
		}
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OPERATION", "operation must be create or drop", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "operation": req.Operation, "database": req.DatabaseName})
}

// handleSelectServer introspects the server's default database and
// caches the rendered schema so the first chat prompt is not paying
// for introspection.
func handleSelectServer(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_reader", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	server, ok := serverByID(deps, w, r)
	if !ok {
		return
	}

	database := server.DefaultDatabase
	schema, err := deps.Gateway.Schema(r.Context(), server, database)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TARGET_ERROR", "failed to introspect server", true, map[string]any{"details": err.Error()})
		return
	}
	snapshot, err := deps.Repo.UpsertSchemaSnapshot(r.Context(), store.UpsertSchemaSnapshotInput{
		ServerAlias:  server.Alias,
		DatabaseName: database,
		Content:      schema,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to store schema snapshot", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "selected",
		"alias":        server.Alias,
		"database":     database,
		"refreshed_at": snapshot.RefreshedAt,
		"timestamp":    time.Now().UTC(),
	})
}

func serverByID(deps Dependencies, w http.ResponseWriter, r *http.Request) (store.Server, bool) {
	server, err := deps.Repo.GetServerByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SERVER_NOT_FOUND", "server does not exist", false, nil)
			return store.Server{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load server", true, map[string]any{"details": err.Error()})
		return store.Server{}, false
	}
	return server, true
}

func serverByAlias(deps Dependencies, w http.ResponseWriter, r *http.Request, alias string) (store.Server, bool) {
	server, err := deps.Repo.GetServerByAlias(r.Context(), alias)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SERVER_NOT_FOUND", "server does not exist", false, nil)
			return store.Server{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load server", true, map[string]any{"details": err.Error()})
		return store.Server{}, false
	}
	return server, true
}
