package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/datapilot/datapilot/internal/store"
)

func TestCreateAndListConversations(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	h := NewHandler(testConfig(t, nil), testDeps(repo, &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/conversations", `{"name": "exploration", "server": "analytics", "database": "sales"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/v1/conversations?server=analytics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	conversations := body["conversations"].([]any)
	if len(conversations) != 1 {
		t.Fatalf("conversations = %v", conversations)
	}
	first := conversations[0].(map[string]any)
	if first["name"] != "exploration" {
		t.Fatalf("name = %v", first["name"])
	}
}

func TestListConversationsScopedToUser(t *testing.T) {
	repo := newFakeRepo()
	repo.conversations[1] = store.Conversation{ConversationID: 1, UserID: 1, ServerAlias: "analytics", Name: "mine"}
	repo.conversations[2] = store.Conversation{ConversationID: 2, UserID: 7, ServerAlias: "analytics", Name: "theirs"}
	h := NewHandler(testConfig(t, nil), testDeps(repo, &fakeGateway{}, &fakeGenerator{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("X-User-ID", "7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "theirs") || strings.Contains(rr.Body.String(), "mine") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestDeleteConversation(t *testing.T) {
	repo := newFakeRepo()
	repo.conversations[42] = store.Conversation{ConversationID: 42, UserID: 1, Name: "old"}
	h := NewHandler(testConfig(t, nil), testDeps(repo, &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodDelete, "/v1/conversations/42", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodDelete, "/v1/conversations/42", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodDelete, "/v1/conversations/abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rr.Code)
	}
}

func TestCreateConversationRequiresNameAndServer(t *testing.T) {
	h := NewHandler(testConfig(t, nil), testDeps(newFakeRepo(), &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/conversations", `{"server": "analytics"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing name status = %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodPost, "/v1/conversations", `{"name": "x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing server status = %d", rr.Code)
	}
}
