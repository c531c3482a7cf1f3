// Package export writes query result sets to the object store as
// Parquet files.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/datapilot/datapilot/internal/gateway"
)

type EncodeResult struct {
	Data        []byte
	RecordCount int64
}

// parquetRow keeps the file schema stable across arbitrary result
// shapes. Each result row is carried as one JSON document.
type parquetRow struct {
	RowNumber int64  `parquet:"row_number"`
	RowJSON   string `parquet:"row_json"`
}

func EncodeResultToParquet(result gateway.Result) (EncodeResult, error) {
	if len(result.Rows) == 0 {
		return EncodeResult{}, fmt.Errorf("rows are required")
	}

	rows := make([]parquetRow, 0, len(result.Rows))
	for i, row := range result.Rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("encode row %d: %w", i, err)
		}
		rows = append(rows, parquetRow{
			RowNumber: int64(i),
			RowJSON:   string(payload),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return EncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
	}, nil
}
