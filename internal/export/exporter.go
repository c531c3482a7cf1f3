package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/datapilot/datapilot/internal/gateway"
	"github.com/datapilot/datapilot/internal/observability"
	"github.com/datapilot/datapilot/internal/storage"
)

type Info struct {
	ExportID    string    `json:"export_id"`
	Key         string    `json:"key"`
	RecordCount int64     `json:"record_count"`
	SizeBytes   int64     `json:"size_bytes"`
	ExportedAt  time.Time `json:"exported_at"`
}

type Exporter struct {
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

func NewExporter(store storage.ObjectStore, logger *slog.Logger) *Exporter {
	return &Exporter{store: store, logger: logger, now: time.Now}
}

// Export encodes a result set and uploads it, returning the object key
// the client can fetch it from.
func (e *Exporter) Export(ctx context.Context, serverAlias, databaseName string, result gateway.Result) (Info, error) {
	encoded, err := EncodeResultToParquet(result)
	if err != nil {
		return Info{}, err
	}

	exportID := uuid.NewString()
	exportedAt := e.now().UTC()
	key, err := storage.BuildExportPath(serverAlias, databaseName, exportID, exportedAt)
	if err != nil {
		return Info{}, err
	}

	size := int64(len(encoded.Data))
	if _, err := e.store.Put(ctx, key, bytes.NewReader(encoded.Data), size, storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	}); err != nil {
		return Info{}, fmt.Errorf("upload export: %w", err)
	}

	observability.ObserveExportBytes(size)
	e.logger.Info("exported result set", "key", key, "records", encoded.RecordCount, "bytes", size)
	return Info{
		ExportID:    exportID,
		Key:         key,
		RecordCount: encoded.RecordCount,
		SizeBytes:   size,
		ExportedAt:  exportedAt,
	}, nil
}
