package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datapilot/datapilot/internal/config"
	"github.com/datapilot/datapilot/internal/export"
	"github.com/datapilot/datapilot/internal/gateway"
	"github.com/datapilot/datapilot/internal/sqlgen"
	"github.com/datapilot/datapilot/internal/store"
)

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func testConfig(t *testing.T, overrides map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("datapilot-api", mapLookup(overrides))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func testDeps(repo *fakeRepo, gw *fakeGateway, gen *fakeGenerator) Dependencies {
	return Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Repo:      repo,
		Gateway:   gw,
		Generator: gen,
		QueryCfg: config.QueryConfig{
			MaxGenerationAttempts: 4,
			BrowseRowLimit:        1000,
			SampleRows:            3,
			MaxVisuals:            2,
		},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type fakeRepo struct {
	servers       map[string]store.Server
	conversations map[int64]store.Conversation
	snapshots     map[string]store.SchemaSnapshot
	nextConvID    int64
	nextMsgID     int64

	createConversationErr error
	appendMessageErr      error
	appendedMessages      []store.AppendMessageInput
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		servers:       map[string]store.Server{},
		conversations: map[int64]store.Conversation{},
		snapshots:     map[string]store.SchemaSnapshot{},
		nextConvID:    100,
		nextMsgID:     1000,
	}
}

func (f *fakeRepo) addServer(server store.Server) {
	f.servers[server.ServerID] = server
}

func (f *fakeRepo) HealthCheck(context.Context) error { return nil }

func (f *fakeRepo) EnsureDefaultUser(context.Context) (store.User, error) {
	return store.User{UserID: 1, Email: "default@localhost"}, nil
}

func (f *fakeRepo) CreateServer(_ context.Context, in store.CreateServerInput) (store.Server, error) {
	server := store.Server{
		ServerID:        in.ServerID,
		Alias:           in.Alias,
		DBType:          in.DBType,
		Host:            in.Host,
		Port:            in.Port,
		Username:        in.Username,
		Password:        in.Password,
		DefaultDatabase: in.DefaultDatabase,
		CreatedAt:       time.Now(),
	}
	f.servers[server.ServerID] = server
	return server, nil
}

func (f *fakeRepo) GetServerByID(_ context.Context, serverID string) (store.Server, error) {
	server, ok := f.servers[serverID]
	if !ok {
		return store.Server{}, store.ErrNotFound
	}
	return server, nil
}

func (f *fakeRepo) GetServerByAlias(_ context.Context, alias string) (store.Server, error) {
	for _, server := range f.servers {
		if server.Alias == alias {
			return server, nil
		}
	}
	return store.Server{}, store.ErrNotFound
}

func (f *fakeRepo) ListServers(context.Context) ([]store.Server, error) {
	servers := make([]store.Server, 0, len(f.servers))
	for _, server := range f.servers {
		servers = append(servers, server)
	}
	return servers, nil
}

func (f *fakeRepo) DeleteServer(_ context.Context, serverID string) (bool, error) {
	if _, ok := f.servers[serverID]; !ok {
		return false, nil
	}
	delete(f.servers, serverID)
	return true, nil
}

func (f *fakeRepo) CreateConversation(_ context.Context, in store.CreateConversationInput) (store.Conversation, error) {
	if f.createConversationErr != nil {
		return store.Conversation{}, f.createConversationErr
	}
	f.nextConvID++
	conversation := store.Conversation{
		ConversationID: f.nextConvID,
		UserID:         in.UserID,
		ServerAlias:    in.ServerAlias,
		DatabaseName:   in.DatabaseName,
		Name:           in.Name,
		CreatedAt:      time.Now(),
	}
	f.conversations[conversation.ConversationID] = conversation
	return conversation, nil
}

func (f *fakeRepo) GetConversation(_ context.Context, conversationID int64) (store.Conversation, error) {
	conversation, ok := f.conversations[conversationID]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return conversation, nil
}

func (f *fakeRepo) ListConversations(_ context.Context, userID int64, serverAlias string) ([]store.Conversation, error) {
	conversations := make([]store.Conversation, 0)
	for _, conversation := range f.conversations {
		if conversation.UserID != userID {
			continue
		}
		if serverAlias != "" && conversation.ServerAlias != serverAlias {
			continue
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

func (f *fakeRepo) DeleteConversation(_ context.Context, conversationID int64) (bool, error) {
	if _, ok := f.conversations[conversationID]; !ok {
		return false, nil
	}
	delete(f.conversations, conversationID)
	return true, nil
}

func (f *fakeRepo) DeleteConversationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for id, conversation := range f.conversations {
		if conversation.CreatedAt.Before(cutoff) {
			delete(f.conversations, id)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeRepo) AppendMessage(_ context.Context, in store.AppendMessageInput) (store.ConversationMessage, error) {
	if f.appendMessageErr != nil {
		return store.ConversationMessage{}, f.appendMessageErr
	}
	f.nextMsgID++
	f.appendedMessages = append(f.appendedMessages, in)
	return store.ConversationMessage{
		MessageID:      f.nextMsgID,
		ConversationID: in.ConversationID,
		Prompt:         in.Prompt,
		SQLQuery:       in.SQLQuery,
		ResultsSummary: in.ResultsSummary,
		ResultData:     in.ResultData,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeRepo) UpsertSchemaSnapshot(_ context.Context, in store.UpsertSchemaSnapshotInput) (store.SchemaSnapshot, error) {
	snapshot := store.SchemaSnapshot{
		ServerAlias:  in.ServerAlias,
		DatabaseName: in.DatabaseName,
		Content:      in.Content,
		RefreshedAt:  time.Now(),
	}
	f.snapshots[in.ServerAlias+"/"+in.DatabaseName] = snapshot
	return snapshot, nil
}

func (f *fakeRepo) GetSchemaSnapshot(_ context.Context, serverAlias, databaseName string) (store.SchemaSnapshot, error) {
	snapshot, ok := f.snapshots[serverAlias+"/"+databaseName]
	if !ok {
		return store.SchemaSnapshot{}, store.ErrNotFound
	}
	return snapshot, nil
}

func (f *fakeRepo) ListSchemaSnapshots(context.Context) ([]store.SchemaSnapshot, error) {
	snapshots := make([]store.SchemaSnapshot, 0, len(f.snapshots))
	for _, snapshot := range f.snapshots {
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (f *fakeRepo) DeleteSchemaSnapshot(_ context.Context, serverAlias, databaseName string) (bool, error) {
	key := serverAlias + "/" + databaseName
	if _, ok := f.snapshots[key]; !ok {
		return false, nil
	}
	delete(f.snapshots, key)
	return true, nil
}

type fakeGateway struct {
	queryResults []gateway.Result
	queryErrs    []error
	queries      []string

	tables    []string
	databases []string
	schema    string
	schemaErr error

	batchAffected int64
	batchErr      error

	closedServerIDs []string
	droppedDBs      []string
	createdDBs      []string
}

func (f *fakeGateway) Query(_ context.Context, _ store.Server, _ string, query string) (gateway.Result, error) {
	f.queries = append(f.queries, query)
	var err error
	if len(f.queryErrs) > 0 {
		err = f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
	}
	if err != nil {
		return gateway.Result{}, err
	}
	if len(f.queryResults) == 0 {
		return gateway.Result{Columns: []string{}, Rows: []map[string]any{}}, nil
	}
	result := f.queryResults[0]
	if len(f.queryResults) > 1 {
		f.queryResults = f.queryResults[1:]
	}
	return result, nil
}

func (f *fakeGateway) ExecBatch(_ context.Context, _ store.Server, _ string, queries []string) (int64, error) {
	if f.batchErr != nil {
		return 0, f.batchErr
	}
	f.queries = append(f.queries, queries...)
	return f.batchAffected, nil
}

func (f *fakeGateway) ListTables(context.Context, store.Server, string) ([]string, error) {
	return f.tables, nil
}

func (f *fakeGateway) BrowseTable(ctx context.Context, server store.Server, database, table string, limit int) (gateway.Result, error) {
	if !gateway.ValidIdentifier(table) {
		return gateway.Result{}, fmt.Errorf("invalid table name %q", table)
	}
	return f.Query(ctx, server, database, fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit))
}

func (f *fakeGateway) ListDatabases(context.Context, store.Server) ([]string, error) {
	return f.databases, nil
}

func (f *fakeGateway) CreateDatabase(_ context.Context, _ store.Server, name string) error {
	if !gateway.ValidIdentifier(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	f.createdDBs = append(f.createdDBs, name)
	return nil
}

func (f *fakeGateway) DropDatabase(_ context.Context, _ store.Server, name string) error {
	if !gateway.ValidIdentifier(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	f.droppedDBs = append(f.droppedDBs, name)
	return nil
}

func (f *fakeGateway) Schema(context.Context, store.Server, string) (string, error) {
	if f.schemaErr != nil {
		return "", f.schemaErr
	}
	return f.schema, nil
}

func (f *fakeGateway) TestConnection(context.Context, store.Server, string) error { return nil }

func (f *fakeGateway) ClosePoolsForServer(serverID string) {
	f.closedServerIDs = append(f.closedServerIDs, serverID)
}

type fakeGenerator struct {
	generations []sqlgen.Generation
	generateErr error
	analysis    sqlgen.QueryAnalysis
	visuals     []sqlgen.Visualization
	prompts     []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, _ string, errorHistory []string, _ int) (sqlgen.Generation, []string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.generateErr != nil {
		return sqlgen.Generation{}, errorHistory, f.generateErr
	}
	if len(f.generations) == 0 {
		return sqlgen.Generation{Query: "SELECT 1", Summary: "fallback"}, errorHistory, nil
	}
	generation := f.generations[0]
	if len(f.generations) > 1 {
		f.generations = f.generations[1:]
	}
	return generation, errorHistory, nil
}

func (f *fakeGenerator) GenerateChained(_ context.Context, stepPrompt, _ string, _ []map[string]any) (sqlgen.Generation, error) {
	f.prompts = append(f.prompts, stepPrompt)
	if f.generateErr != nil {
		return sqlgen.Generation{}, f.generateErr
	}
	if len(f.generations) == 0 {
		return sqlgen.Generation{Query: "SELECT 1", Summary: "fallback"}, nil
	}
	generation := f.generations[0]
	if len(f.generations) > 1 {
		f.generations = f.generations[1:]
	}
	return generation, nil
}

func (f *fakeGenerator) AnalyzeQueryType(context.Context, string) sqlgen.QueryAnalysis {
	if f.analysis.QueryType == "" {
		return sqlgen.QueryAnalysis{QueryType: sqlgen.QueryTypeSingle}
	}
	return f.analysis
}

func (f *fakeGenerator) GenerateVisuals(context.Context, []map[string]any, string) []sqlgen.Visualization {
	return f.visuals
}

type fakeExporter struct {
	info      export.Info
	exportErr error
	calls     int
}

func (f *fakeExporter) Export(context.Context, string, string, gateway.Result) (export.Info, error) {
	f.calls++
	if f.exportErr != nil {
		return export.Info{}, f.exportErr
	}
	return f.info, nil
}
