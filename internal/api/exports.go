package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

type exportCreateRequest struct {
	ServerAlias  string `json:"server"`
	DatabaseName string `json:"database"`
	SQL          string `json:"sql"`
}

// handleCreateExport runs a row-producing query and writes the result
// set to the object store as Parquet.
func handleCreateExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "object store is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, "query_reader", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req exportCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid export request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if !exportableStatement(req.SQL) {
		writeError(r.Context(), w, http.StatusBadRequest, "READ_ONLY_SQL_REQUIRED", "export queries must be SELECT or WITH statements", false, nil)
		return
	}
	server, ok := serverByAlias(deps, w, r, req.ServerAlias)
	if !ok {
		return
	}
	database := req.DatabaseName
	if database == "" {
		database = server.DefaultDatabase
	}

	result, err := deps.Gateway.Query(r.Context(), server, database, req.SQL)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_EXECUTION_FAILED", "error executing export query", false, map[string]any{
			"error": err.Error(),
			"query": req.SQL,
		})
		return
	}
	if len(result.Rows) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "EMPTY_RESULT", "export query returned no rows", false, nil)
		return
	}

	info, err := deps.Exporter.Export(r.Context(), server.Alias, database, result)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to upload export", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// exportableStatement reports whether the statement is a plain read.
// Exports never execute DML or DDL, even when the caller could run the
// same statement through the raw SQL endpoint.
func exportableStatement(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	for strings.HasPrefix(trimmed, "(") {
		trimmed = strings.TrimSpace(trimmed[1:])
	}
	firstWord := trimmed
	if idx := strings.IndexAny(trimmed, " \t\r\n("); idx >= 0 {
		firstWord = trimmed[:idx]
	}
	switch strings.ToLower(firstWord) {
	case "select", "with":
		return true
	}
	return false
}
