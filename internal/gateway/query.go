package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/datapilot/datapilot/internal/observability"
	"github.com/datapilot/datapilot/internal/store"
)

// maxExactJSONInt is the largest integer a JSON consumer can hold
// without losing precision. Larger values are rendered as strings.
const maxExactJSONInt = int64(1) << 53

// Result is one executed statement's outcome. Statements that return
// no row set carry a single affected_rows row instead.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Query runs a single SQL statement against a target database and
// returns normalized rows.
func (g *Gateway) Query(ctx context.Context, server store.Server, database, query string) (Result, error) {
	db, err := g.pool(ctx, server, database)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	if !returnsRows(query) {
		res, err := db.ExecContext(ctx, query)
		if err != nil {
			return Result{}, fmt.Errorf("execute statement: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			affected = 0
		}
		observability.ObserveTargetQuery(string(server.DBType), 0, time.Since(start))
		return Result{
			Columns: []string{"affected_rows"},
			Rows:    []map[string]any{{"affected_rows": affected}},
		}, nil
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read result columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([]map[string]any, 0)}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, fmt.Errorf("scan result row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate result rows: %w", err)
	}

	observability.ObserveTargetQuery(string(server.DBType), len(result.Rows), time.Since(start))
	return result, nil
}

// ExecBatch runs multiple statements in one transaction and reports
// the total affected row count. Any failure rolls the whole batch back.
func (g *Gateway) ExecBatch(ctx context.Context, server store.Server, database string, queries []string) (int64, error) {
	db, err := g.pool(ctx, server, database)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, query := range queries {
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("execute batch statement: %w", err)
		}
		affected, err := res.RowsAffected()
		if err == nil {
			total += affected
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return total, nil
}

// returnsRows reports whether the statement produces a row set. DML
// and DDL go through Exec so affected counts are available.
func returnsRows(query string) bool {
	trimmed := strings.TrimSpace(query)
	for strings.HasPrefix(trimmed, "(") {
		trimmed = strings.TrimSpace(trimmed[1:])
	}
	firstWord := trimmed
	if idx := strings.IndexAny(trimmed, " \t\r\n("); idx >= 0 {
		firstWord = trimmed[:idx]
	}
	switch strings.ToLower(firstWord) {
	case "select", "with", "show", "explain", "describe", "values", "pragma", "table":
		return true
	}
	// DML with RETURNING produces rows too.
	return strings.Contains(strings.ToLower(query), " returning ")
}

// normalizeValue flattens driver values into JSON-safe types. Integers
// beyond 2^53 become strings so browser clients do not round them.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case int64:
		if v > maxExactJSONInt || v < -maxExactJSONInt {
			return strconv.FormatInt(v, 10)
		}
		return v
	case uint64:
		if v > uint64(maxExactJSONInt) {
			return strconv.FormatUint(v, 10)
		}
		return int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	default:
		return v
	}
}

// IsForeignKeyViolation identifies constraint errors that no amount of
// regenerating the SQL can fix.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1451 || myErr.Number == 1452
	}
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key")
}
