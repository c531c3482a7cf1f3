package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/datapilot/datapilot/internal/store"
)

type conversationCreateRequest struct {
	Name         string `json:"name"`
	ServerAlias  string `json:"server"`
	DatabaseName string `json:"database"`
}

func conversationView(conversation store.Conversation) map[string]any {
	messages := make([]map[string]any, 0, len(conversation.Messages))
	for _, message := range conversation.Messages {
		messages = append(messages, map[string]any{
			"id":              message.MessageID,
			"prompt":          message.Prompt,
			"sql_query":       message.SQLQuery,
			"results_summary": message.ResultsSummary,
			"result_data":     json.RawMessage(message.ResultData),
			"created_at":      message.CreatedAt,
		})
	}
	return map[string]any{
		"id":         conversation.ConversationID,
		"name":       conversation.Name,
		"server":     conversation.ServerAlias,
		"database":   conversation.DatabaseName,
		"created_at": conversation.CreatedAt,
		"messages":   messages,
	}
}

func handleListConversations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	userID := userFromRequest(r)
	serverAlias := r.URL.Query().Get("server")

	conversations, err := deps.Repo.ListConversations(r.Context(), userID, serverAlias)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list conversations", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		items = append(items, conversationView(conversation))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func handleCreateConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req conversationCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid conversation request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "name is required", false, nil)
		return
	}
	if strings.TrimSpace(req.ServerAlias) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SERVER_REQUIRED", "server is required", false, nil)
		return
	}

	conversation, err := deps.Repo.CreateConversation(r.Context(), store.CreateConversationInput{
		UserID:       userFromRequest(r),
		ServerAlias:  req.ServerAlias,
		DatabaseName: req.DatabaseName,
		Name:         req.Name,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to create conversation", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         conversation.ConversationID,
		"name":       conversation.Name,
		"server":     conversation.ServerAlias,
		"database":   conversation.DatabaseName,
		"created_at": conversation.CreatedAt,
	})
}

func handleDeleteConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	conversationID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ID", "conversation id must be an integer", false, nil)
		return
	}

	deleted, err := deps.Repo.DeleteConversation(r.Context(), conversationID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete conversation", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation does not exist", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": conversationID})
}
