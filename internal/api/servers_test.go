package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/datapilot/datapilot/internal/gateway"
)

func TestCreateServerValidatesAndRegisters(t *testing.T) {
	repo := newFakeRepo()
	h := NewHandler(testConfig(t, nil), testDeps(repo, &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/servers", `{
		"alias": "analytics",
		"db_type": "postgresql",
		"host": "db.internal",
		"port": 5432,
		"username": "reader",
		"password": "secret",
		"default_database": "sales"
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["alias"] != "analytics" {
		t.Fatalf("alias = %v", body["alias"])
	}
	if _, ok := body["password"]; ok {
		t.Fatal("password must not be returned")
	}
	if body["id"] == "" || body["id"] == nil {
		t.Fatal("id missing")
	}
}

func TestCreateServerRejectsDuplicateAlias(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	h := NewHandler(testConfig(t, nil), testDeps(repo, &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/servers", `{
		"alias": "analytics",
		"db_type": "postgresql",
		"host": "db.internal",
		"port": 5432
	}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateServerRejectsBadDBType(t *testing.T) {
	h := NewHandler(testConfig(t, nil), testDeps(newFakeRepo(), &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/servers", `{"alias": "x", "db_type": "oracle", "host": "h", "port": 1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCreateDuckDBServerRequiresPath(t *testing.T) {
	h := NewHandler(testConfig(t, nil), testDeps(newFakeRepo(), &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/servers", `{"alias": "local", "db_type": "duckdb"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/servers", `{"alias": "local", "db_type": "duckdb", "default_database": "/data/local.duckdb"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDeleteServerClosesPools(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	gw := &fakeGateway{}
	h := NewHandler(testConfig(t, nil), testDeps(repo, gw, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodDelete, "/v1/servers/srv-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if len(gw.closedServerIDs) != 1 || gw.closedServerIDs[0] != "srv-1" {
		t.Fatalf("closed pools = %v", gw.closedServerIDs)
	}

	rr = doJSON(t, h, http.MethodDelete, "/v1/servers/srv-1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestListDatabases(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	gw := &fakeGateway{databases: []string{"postgres", "sales"}}
	h := NewHandler(testConfig(t, nil), testDeps(repo, gw, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodGet, "/v1/servers/srv-1/databases", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body["databases"].([]any)) != 2 {
		t.Fatalf("databases = %v", body["databases"])
	}
}

func TestManageDatabaseCreateAndDrop(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	gw := &fakeGateway{}
	h := NewHandler(testConfig(t, nil), testDeps(repo, gw, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/servers/srv-1/databases", `{"database_name": "reporting", "operation": "create"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, h, http.MethodPost, "/v1/servers/srv-1/databases", `{"database_name": "reporting", "operation": "drop"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("drop status = %d: %s", rr.Code, rr.Body.String())
	}
	if len(gw.createdDBs) != 1 || len(gw.droppedDBs) != 1 {
		t.Fatalf("created = %v dropped = %v", gw.createdDBs, gw.droppedDBs)
	}
}

func TestManageDatabaseRejectsHostileName(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	h := NewHandler(testConfig(t, nil), testDeps(repo, &fakeGateway{}, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/servers/srv-1/databases", `{"database_name": "x; DROP TABLE users", "operation": "create"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSelectServerCachesSchemaSnapshot(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	gw := &fakeGateway{schema: "Table: orders"}
	h := NewHandler(testConfig(t, nil), testDeps(repo, gw, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodPost, "/v1/servers/srv-1/select", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	snapshot, ok := repo.snapshots["analytics/sales"]
	if !ok {
		t.Fatal("snapshot not stored")
	}
	if snapshot.Content != "Table: orders" {
		t.Fatalf("snapshot content = %q", snapshot.Content)
	}
}

func TestListTablesUsesDefaultDatabase(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	gw := &fakeGateway{tables: []string{"customers", "orders"}}
	h := NewHandler(testConfig(t, nil), testDeps(repo, gw, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodGet, "/v1/tables/analytics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body["tables"].([]any)) != 2 {
		t.Fatalf("tables = %v", body["tables"])
	}
}

func TestBrowseTableReturnsRowsAndColumns(t *testing.T) {
	repo := newFakeRepo()
	repo.addServer(analyticsServer())
	gw := &fakeGateway{queryResults: []gateway.Result{
		{Columns: []string{"order_id"}, Rows: []map[string]any{{"order_id": 1}}},
	}}
	h := NewHandler(testConfig(t, nil), testDeps(repo, gw, &fakeGenerator{}))

	rr := doJSON(t, h, http.MethodGet, "/v1/tables/analytics/orders?database=sales", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if len(gw.queries) != 1 || gw.queries[0] != "SELECT * FROM orders LIMIT 1000" {
		t.Fatalf("queries = %v", gw.queries)
	}

	rr = doJSON(t, h, http.MethodGet, "/v1/tables/analytics/orders%3BDROP", "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("hostile table status = %d: %s", rr.Code, rr.Body.String())
	}
}
