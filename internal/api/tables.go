package api

import (
	"net/http"
	"time"
)

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_reader", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	server, ok := serverByAlias(deps, w, r, r.PathValue("server"))
	if !ok {
		return
	}
	database := r.URL.Query().Get("database")
	if database == "" {
		database = server.DefaultDatabase
	}

	tables, err := deps.Gateway.ListTables(r.Context(), server, database)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TARGET_ERROR", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tables":    tables,
		"timestamp": time.Now().UTC(),
	})
}

func handleBrowseTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_reader", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	server, ok := serverByAlias(deps, w, r, r.PathValue("server"))
	if !ok {
		return
	}
	database := r.URL.Query().Get("database")
	if database == "" {
		database = server.DefaultDatabase
	}

	result, err := deps.Gateway.BrowseTable(r.Context(), server, database, r.PathValue("table"), deps.QueryCfg.BrowseRowLimit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TARGET_ERROR", "failed to fetch table data", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      result.Rows,
		"columns":   result.Columns,
		"timestamp": time.Now().UTC(),
	})
}
