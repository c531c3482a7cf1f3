package export

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/datapilot/datapilot/internal/gateway"
)

func TestEncodeResultToParquet(t *testing.T) {
	result := gateway.Result{
		Columns: []string{"customer", "total"},
		Rows: []map[string]any{
			{"customer": "acme", "total": 120.5},
			{"customer": "globex", "total": 98.0},
		},
	}

	encoded, err := EncodeResultToParquet(result)
	if err != nil {
		t.Fatalf("EncodeResultToParquet() error = %v", err)
	}
	if encoded.RecordCount != 2 {
		t.Fatalf("RecordCount = %d", encoded.RecordCount)
	}
	if len(encoded.Data) == 0 {
		t.Fatal("expected non-empty parquet payload")
	}

	reader := parquet.NewGenericReader[parquetRow](bytes.NewReader(encoded.Data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetRow, 2)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}
	if rows[0].RowNumber != 0 || rows[1].RowNumber != 1 {
		t.Fatalf("unexpected row numbers: %+v", rows)
	}
	if !strings.Contains(rows[0].RowJSON, `"customer":"acme"`) {
		t.Fatalf("RowJSON = %q", rows[0].RowJSON)
	}
}

func TestEncodeResultToParquetRequiresRows(t *testing.T) {
	_, err := EncodeResultToParquet(gateway.Result{Columns: []string{"a"}})
	if err == nil {
		t.Fatal("expected error for empty result")
	}
}
