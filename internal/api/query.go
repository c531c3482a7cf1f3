package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/datapilot/datapilot/internal/gateway"
	"github.com/datapilot/datapilot/internal/observability"
	"github.com/datapilot/datapilot/internal/sqlgen"
	"github.com/datapilot/datapilot/internal/store"
)

type queryRequest struct {
	Prompt         string `json:"prompt"`
	ServerAlias    string `json:"server"`
	DatabaseName   string `json:"database"`
	TableName      string `json:"table"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Mode           string `json:"mode"`
}

const (
	queryModeAsk = "ask"
	queryModeRun = "run"
)

// handleQuery is the chat entrypoint: it turns a natural language
// prompt into SQL, optionally executes it, and appends the exchange to
// a conversation.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, "query_reader", "query_writer", "server_admin"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}
	if req.Mode == "" {
		req.Mode = queryModeAsk
	}
	if req.Mode != queryModeAsk && req.Mode != queryModeRun {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", "mode must be ask or run", false, nil)
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

	conversationID := req.ConversationID
	if conversationID == 0 {
		name := req.Prompt
		if runes := []rune(name); len(runes) > 50 {
			name = string(runes[:50])
		}
		conversation, err := deps.Repo.CreateConversation(r.Context(), store.CreateConversationInput{
			UserID:       userFromRequest(r),
			ServerAlias:  server.Alias,
			DatabaseName: database,
			Name:         fmt.Sprintf("Query: %s...", name),
		})
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to create conversation", true, map[string]any{"details": err.Error()})
			return
		}
		conversationID = conversation.ConversationID
	}

	schema, err := schemaForQuery(deps, r, server, database)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TARGET_ERROR", "failed to load database schema", true, map[string]any{"details": err.Error()})
		return
	}

	analysis := deps.Generator.AnalyzeQueryType(r.Context(), req.Prompt)
	if analysis.QueryType == sqlgen.QueryTypeMulti && len(analysis.Steps) > 1 {
		runMultiStepQuery(deps, w, r, server, database, schema, conversationID, analysis.Steps, req.Prompt)
		return
	}
	runSingleQuery(deps, w, r, server, database, schema, conversationID, req)
}

func runSingleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request, server store.Server, database, schema string, conversationID int64, req queryRequest) {
	augmented := fmt.Sprintf("%s\n Table: %s, Database: %s, Server: %s", req.Prompt, req.TableName, database, server.Alias)

	var errorHistory []string
	maxAttempts := deps.QueryCfg.MaxGenerationAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		generation, history, err := deps.Generator.Generate(r.Context(), augmented, schema, errorHistory, attempt)
		errorHistory = history
		if err != nil {
			observability.ObserveGenerationOutcome(attempt, true)
			writeError(r.Context(), w, http.StatusInternalServerError, "GENERATION_FAILED", "failed to generate valid query", false, map[string]any{
				"errors":   append(errorHistory, err.Error()),
				"attempts": attempt,
			})
			return
		}

		now := time.Now().UTC()
		if req.Mode == queryModeAsk {
			observability.ObserveGenerationOutcome(attempt, false)
			writeJSON(w, http.StatusOK, map[string]any{
				"query":           generation.Query,
				"summary":         generation.Summary,
				"conversation_id": conversationID,
				"timestamp":       now,
			})
			return
		}

		result, err := deps.Gateway.Query(r.Context(), server, database, generation.Query)
		if err != nil {
			if gateway.IsForeignKeyViolation(err) {
				observability.ObserveGenerationOutcome(attempt, true)
				writeError(r.Context(), w, http.StatusBadRequest, "FOREIGN_KEY_VIOLATION", "foreign key constraint violation", false, map[string]any{
					"error": err.Error(),
					"query": generation.Query,
				})
				return
			}
			errorHistory = append(errorHistory, fmt.Sprintf("Attempt %d error: %s", attempt, err))
			deps.Logger.Warn("query attempt failed", "attempt", attempt, "error", err)
			continue
		}

		visuals := deps.Generator.GenerateVisuals(r.Context(), result.Rows, augmented)
		observability.ObserveGenerationOutcome(attempt, false)

		saveConversationMessage(deps, r, conversationID, augmented, generation, result, visuals, now)

		writeJSON(w, http.StatusOK, map[string]any{
			"type":            "single",
			"query":           generation.Query,
			"summary":         generation.Summary,
			"results":         result.Rows,
			"visuals":         visuals,
			"attempts":        attempt,
			"conversation_id": conversationID,
			"timestamp":       now,
		})
		return
	}

	observability.ObserveGenerationOutcome(maxAttempts, true)
	writeError(r.Context(), w, http.StatusInternalServerError, "GENERATION_FAILED", "failed to generate valid query", false, map[string]any{
		"errors":   errorHistory,
		"attempts": maxAttempts,
	})
}

func runMultiStepQuery(deps Dependencies, w http.ResponseWriter, r *http.Request, server store.Server, database, schema string, conversationID int64, steps []string, originalPrompt string) {
	executed := make([]map[string]any, 0, len(steps))
	var previous []map[string]any

	for i, step := range steps {
		generation, err := deps.Generator.GenerateChained(r.Context(), step, schema, previous)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "STEP_FAILED", fmt.Sprintf("error in step %d", i+1), false, map[string]any{
				"error":       err.Error(),
				"failed_step": i + 1,
				"steps":       executed,
			})
			return
		}
		result, err := deps.Gateway.Query(r.Context(), server, database, generation.Query)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "STEP_FAILED", fmt.Sprintf("error in step %d", i+1), false, map[string]any{
				"error":       err.Error(),
				"failed_step": i + 1,
				"steps":       executed,
			})
			return
		}
		previous = result.Rows
		executed = append(executed, map[string]any{
			"prompt":  step,
			"query":   generation.Query,
			"summary": generation.Summary,
			"results": result.Rows,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":            "multi",
		"steps":           executed,
		"summary":         fmt.Sprintf("Executed %d steps successfully", len(steps)),
		"conversation_id": conversationID,
		"original_prompt": originalPrompt,
	})
}

// schemaForQuery serves the cached snapshot when available and falls
// back to live introspection, caching what it finds.
func schemaForQuery(deps Dependencies, r *http.Request, server store.Server, database string) (string, error) {
	snapshot, err := deps.Repo.GetSchemaSnapshot(r.Context(), server.Alias, database)
	if err == nil {
		return snapshot.Content, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	schema, err := deps.Gateway.Schema(r.Context(), server, database)
	if err != nil {
		return "", err
	}
	if _, err := deps.Repo.UpsertSchemaSnapshot(r.Context(), store.UpsertSchemaSnapshotInput{
		ServerAlias:  server.Alias,
		DatabaseName: database,
		Content:      schema,
	}); err != nil {
		deps.Logger.Warn("schema snapshot save failed", "server", server.Alias, "database", database, "error", err)
	}
	return schema, nil
}

// saveConversationMessage is best effort: a catalog hiccup must not
// fail a query the target database already answered.
func saveConversationMessage(deps Dependencies, r *http.Request, conversationID int64, prompt string, generation sqlgen.Generation, result gateway.Result, visuals []sqlgen.Visualization, at time.Time) {
	resultData, err := json.Marshal(map[string]any{
		"query":     generation.Query,
		"summary":   generation.Summary,
		"results":   result.Rows,
		"visuals":   visuals,
		"timestamp": at,
	})
	if err != nil {
		deps.Logger.Warn("conversation message serialization failed", "conversation_id", conversationID, "error", err)
		return
	}
	if _, err := deps.Repo.AppendMessage(r.Context(), store.AppendMessageInput{
		ConversationID: conversationID,
		Prompt:         prompt,
		SQLQuery:       generation.Query,
		ResultsSummary: generation.Summary,
		ResultData:     resultData,
	}); err != nil {
		deps.Logger.Warn("conversation message save failed", "conversation_id", conversationID, "error", err)
	}
}
