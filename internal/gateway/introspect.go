package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/datapilot/datapilot/internal/store"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether a name is safe to interpolate into
// DDL. Database and table names cannot be bound as parameters, so
// anything else is rejected outright.
func ValidIdentifier(name string) bool {
	return len(name) <= 63 && identifierPattern.MatchString(name)
}

// ListTables returns the table names of a target database.
func (g *Gateway) ListTables(ctx context.Context, server store.Server, database string) ([]string, error) {
	db, err := g.pool(ctx, server, database)
	if err != nil {
		return nil, err
	}

	var query string
	switch server.DBType {
	case store.DBTypePostgres:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`
	case store.DBTypeMySQL:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`
	case store.DBTypeDuckDB:
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`
	default:
		return nil, fmt.Errorf("unsupported db_type %q", server.DBType)
	}

	return queryStrings(ctx, db, query)
}

// ListDatabases enumerates databases visible on the server.
func (g *Gateway) ListDatabases(ctx context.Context, server store.Server) ([]string, error) {
	db, err := g.pool(ctx, server, maintenanceDatabase(server))
	if err != nil {
		return nil, err
	}

	var query string
	switch server.DBType {
	case store.DBTypePostgres:
		query = `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`
	case store.DBTypeMySQL:
		query = `SHOW DATABASES`
	case store.DBTypeDuckDB:
		query = `SELECT database_name FROM duckdb_databases() ORDER BY database_name`
	default:
		return nil, fmt.Errorf("unsupported db_type %q", server.DBType)
	}

	names, err := queryStrings(ctx, db, query)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// CreateDatabase creates a database on the server. The name is
// validated because CREATE DATABASE cannot take bound parameters.
func (g *Gateway) CreateDatabase(ctx context.Context, server store.Server, name string) error {
	if !ValidIdentifier(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	if server.DBType == store.DBTypeDuckDB {
		return fmt.Errorf("database management is not supported for duckdb servers")
	}

	db, err := g.pool(ctx, server, maintenanceDatabase(server))
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// DropDatabase drops a database, terminating live sessions first on
// postgres so the drop does not block.
func (g *Gateway) DropDatabase(ctx context.Context, server store.Server, name string) error {
	if !ValidIdentifier(name) {
		return fmt.Errorf("invalid database name %q", name)
	}
	if server.DBType == store.DBTypeDuckDB {
		return fmt.Errorf("database management is not supported for duckdb servers")
	}

	db, err := g.pool(ctx, server, maintenanceDatabase(server))
	if err != nil {
		return err
	}
	if server.DBType == store.DBTypePostgres {
		if _, err := db.ExecContext(ctx,
			`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
			name,
		); err != nil {
			return fmt.Errorf("terminate sessions on %s: %w", name, err)
		}
	}
	if _, err := db.ExecContext(ctx, "DROP DATABASE "+name); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

// maintenanceDatabase is the database used for server-level operations
// such as listing or creating databases.
func maintenanceDatabase(server store.Server) string {
	switch server.DBType {
	case store.DBTypePostgres:
		if server.DefaultDatabase != "" {
			return server.DefaultDatabase
		}
		return "postgres"
	case store.DBTypeMySQL:
		return server.DefaultDatabase
	default:
		return server.DefaultDatabase
	}
}

type tableSchema struct {
	Name        string
	Columns     []columnSchema
	PrimaryKeys []string
	ForeignKeys []foreignKeySchema
}

type columnSchema struct {
	Name string
	Type string
}

type foreignKeySchema struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Schema introspects a target database and renders it as the plain
// text block fed into generation prompts.
func (g *Gateway) Schema(ctx context.Context, server store.Server, database string) (string, error) {
	db, err := g.pool(ctx, server, database)
	if err != nil {
		return "", err
	}

	tables, err := g.ListTables(ctx, server, database)
	if err != nil {
		return "", err
	}

	blocks := make([]string, 0, len(tables))
	for _, table := range tables {
		schema, err := describeTable(ctx, db, server.DBType, table)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, renderTable(schema))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func describeTable(ctx context.Context, db *sql.DB, dbType store.DBType, table string) (tableSchema, error) {
	schema := tableSchema{Name: table}

	columnsQuery, args := columnsQueryFor(dbType, table)
	rows, err := db.QueryContext(ctx, columnsQuery, args...)
	if err != nil {
		return tableSchema{}, fmt.Errorf("describe columns for %s: %w", table, err)
	}
	for rows.Next() {
		var col columnSchema
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			_ = rows.Close()
			return tableSchema{}, fmt.Errorf("scan column row: %w", err)
		}
		schema.Columns = append(schema.Columns, col)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return tableSchema{}, fmt.Errorf("iterate column rows: %w", err)
	}
	_ = rows.Close()

	// DuckDB exposes constraints through its own catalog functions, and
	// generation quality without them is acceptable for local files.
	if dbType == store.DBTypeDuckDB {
		return schema, nil
	}

	pks, err := queryStringsArgs(ctx, db, primaryKeysQueryFor(dbType), table)
	if err != nil {
		return tableSchema{}, fmt.Errorf("describe primary keys for %s: %w", table, err)
	}
	schema.PrimaryKeys = pks

	fkQuery := foreignKeysQueryFor(dbType)
	fkRows, err := db.QueryContext(ctx, fkQuery, table)
	if err != nil {
		return tableSchema{}, fmt.Errorf("describe foreign keys for %s: %w", table, err)
	}
	defer func() { _ = fkRows.Close() }()
	for fkRows.Next() {
		var fk foreignKeySchema
		if err := fkRows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return tableSchema{}, fmt.Errorf("scan foreign key row: %w", err)
		}
		schema.ForeignKeys = append(schema.ForeignKeys, fk)
	}
	if err := fkRows.Err(); err != nil {
		return tableSchema{}, fmt.Errorf("iterate foreign key rows: %w", err)
	}

	return schema, nil
}

func columnsQueryFor(dbType store.DBType, table string) (string, []any) {
	switch dbType {
	case store.DBTypeMySQL:
		return `
SELECT column_name, column_type
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position`, []any{table}
	case store.DBTypeDuckDB:
		return `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND table_name = $1
ORDER BY ordinal_position`, []any{table}
	default:
		return `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`, []any{table}
	}
}

func primaryKeysQueryFor(dbType store.DBType) string {
	if dbType == store.DBTypeMySQL {
		return `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema AND kcu.table_name = tc.table_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = DATABASE() AND tc.table_name = ?
ORDER BY kcu.ordinal_position`
	}
	return `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public' AND tc.table_name = $1
ORDER BY kcu.ordinal_position`
}

func foreignKeysQueryFor(dbType store.DBType) string {
	if dbType == store.DBTypeMySQL {
		return `
SELECT kcu.column_name, kcu.referenced_table_name, kcu.referenced_column_name
FROM information_schema.key_column_usage kcu
WHERE kcu.table_schema = DATABASE() AND kcu.table_name = ? AND kcu.referenced_table_name IS NOT NULL
ORDER BY kcu.ordinal_position`
	}
	return `
SELECT kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public' AND tc.table_name = $1
ORDER BY kcu.ordinal_position`
}

func renderTable(schema tableSchema) string {
	var b strings.Builder
	b.WriteString("Table: ")
	b.WriteString(schema.Name)
	b.WriteString("\nColumns:")
	for _, col := range schema.Columns {
		b.WriteString("\n  ")
		b.WriteString(col.Name)
		b.WriteString(" ")
		b.WriteString(col.Type)
	}
	if len(schema.PrimaryKeys) > 0 {
		b.WriteString("\nPrimary Keys: ")
		b.WriteString(strings.Join(schema.PrimaryKeys, ", "))
	}
	if len(schema.ForeignKeys) > 0 {
		b.WriteString("\nForeign Keys:")
		for _, fk := range schema.ForeignKeys {
			b.WriteString("\n  ")
			b.WriteString(fk.Column)
			b.WriteString(" -> ")
			b.WriteString(fk.ReferencedTable)
			b.WriteString(".")
			b.WriteString(fk.ReferencedColumn)
		}
	}
	return b.String()
}

// BrowseTable fetches up to limit rows from a table. The validated name
// is quoted so reserved words and mixed-case tables resolve correctly.
func (g *Gateway) BrowseTable(ctx context.Context, server store.Server, database, table string, limit int) (Result, error) {
	if !ValidIdentifier(table) {
		return Result{}, fmt.Errorf("invalid table name %q", table)
	}
	return g.Query(ctx, server, database, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdentifier(server.DBType, table), limit))
}

// quoteIdentifier wraps an already validated identifier in the quoting
// style of the target engine.
func quoteIdentifier(dbType store.DBType, name string) string {
	if dbType == store.DBTypeMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

func queryStrings(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	return queryStringsArgs(ctx, db, query)
}

func queryStringsArgs(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate names: %w", err)
	}
	return names, nil
}
