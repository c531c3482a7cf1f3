package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type sqlExecuteRequest struct {
	SQL          string `json:"sql"`
	ServerAlias  string `json:"server"`
	DatabaseName string `json:"database"`
}

type batchSQLRequest struct {
	ServerAlias  string   `json:"server"`
	DatabaseName string   `json:"database"`
	SQLQueries   []string `json:"sql_queries"`
}

func handleExecuteSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_writer", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req sqlExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid sql request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
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

	start := time.Now()
	result, err := deps.Gateway.Query(r.Context(), server, database, req.SQL)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_EXECUTION_FAILED", "error executing SQL query", false, map[string]any{
			"error": err.Error(),
			"query": req.SQL,
		})
		return
	}
	elapsed := time.Since(start)

	var affected int64
	rows := result.Rows
	if len(result.Columns) == 1 && result.Columns[0] == "affected_rows" && len(rows) == 1 {
		if n, ok := rows[0]["affected_rows"].(int64); ok {
			affected = n
		}
		rows = []map[string]any{}
	} else {
		affected = int64(len(rows))
	}

	summary := fmt.Sprintf("Executed SQL query successfully in %.2fs\nAffected rows: %d", elapsed.Seconds(), affected)
	writeJSON(w, http.StatusOK, map[string]any{
		"type":          "single",
		"query":         req.SQL,
		"summary":       summary,
		"results":       rows,
		"affected_rows": affected,
	})
}

func handleBatchSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_writer", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req batchSQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid batch request body", false, map[string]any{"details": err.Error()})
		return
	}
	if len(req.SQLQueries) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERIES_REQUIRED", "no SQL queries provided", false, nil)
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

	affected, err := deps.Gateway.ExecBatch(r.Context(), server, database, req.SQLQueries)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "BATCH_EXECUTION_FAILED", "error executing batch queries", false, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Batch execution successful",
		"affected_rows": affected,
	})
}
