// Package maintenance runs the background jobs that keep the catalog
// tidy: refreshing cached schema snapshots against the live target
// databases and pruning conversations past their retention age.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/datapilot/datapilot/internal/store"
)

type Catalog interface {
	GetServerByAlias(ctx context.Context, alias string) (store.Server, error)
	ListSchemaSnapshots(ctx context.Context) ([]store.SchemaSnapshot, error)
	UpsertSchemaSnapshot(ctx context.Context, in store.UpsertSchemaSnapshotInput) (store.SchemaSnapshot, error)
	DeleteSchemaSnapshot(ctx context.Context, serverAlias, databaseName string) (bool, error)
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SchemaSource introspects a target database and renders its schema.
type SchemaSource interface {
	Schema(ctx context.Context, server store.Server, database string) (string, error)
}

type Config struct {
	SnapshotRefreshInterval time.Duration
	RetentionInterval       time.Duration
	ConversationMaxAge      time.Duration
}

type Service struct {
	Catalog Catalog
	Schemas SchemaSource
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time
}

type SnapshotRefreshSummary struct {
	SnapshotsScanned   int `json:"snapshots_scanned"`
	SnapshotsRefreshed int `json:"snapshots_refreshed"`
	SnapshotsDropped   int `json:"snapshots_dropped"`
	Failures           int `json:"failures"`
}

type RetentionSummary struct {
	Cutoff               time.Time `json:"cutoff"`
	ConversationsDeleted int64     `json:"conversations_deleted"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	refreshTicker := time.NewTicker(s.Config.SnapshotRefreshInterval)
	defer refreshTicker.Stop()
	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refreshTicker.C:
			summary, err := s.RunSnapshotRefreshOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "snapshot refresh cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "snapshot refresh cycle completed", slog.Any("summary", summary))
			}
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "retention cycle failed", slog.Any("error", err))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "retention cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunSnapshotRefreshOnce re-introspects every cached schema snapshot.
// Snapshots whose server registration is gone are dropped instead of
// refreshed.
func (s *Service) RunSnapshotRefreshOnce(ctx context.Context) (SnapshotRefreshSummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return SnapshotRefreshSummary{}, fmt.Errorf("catalog is required")
	}
	if s.Schemas == nil {
		return SnapshotRefreshSummary{}, fmt.Errorf("schema source is required")
	}

	summary := SnapshotRefreshSummary{}
	snapshots, err := s.Catalog.ListSchemaSnapshots(ctx)
	if err != nil {
		snapshotRefreshRunsTotal.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("list schema snapshots: %w", err)
	}
	summary.SnapshotsScanned = len(snapshots)

	for _, snapshot := range snapshots {
		server, err := s.Catalog.GetServerByAlias(ctx, snapshot.ServerAlias)
		if errors.Is(err, store.ErrNotFound) {
			if _, err := s.Catalog.DeleteSchemaSnapshot(ctx, snapshot.ServerAlias, snapshot.DatabaseName); err != nil {
				summary.Failures++
				continue
			}
			summary.SnapshotsDropped++
			continue
		}
		if err != nil {
			summary.Failures++
			continue
		}

		content, err := s.Schemas.Schema(ctx, server, snapshot.DatabaseName)
		if err != nil {
			summary.Failures++
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "schema introspection failed",
					slog.String("server", snapshot.ServerAlias),
					slog.String("database", snapshot.DatabaseName),
					slog.Any("error", err))
			}
			continue
		}
		if content == snapshot.Content {
			continue
		}
		if _, err := s.Catalog.UpsertSchemaSnapshot(ctx, store.UpsertSchemaSnapshotInput{
			ServerAlias:  snapshot.ServerAlias,
			DatabaseName: snapshot.DatabaseName,
			Content:      content,
		}); err != nil {
			summary.Failures++
			continue
		}
		summary.SnapshotsRefreshed++
	}

	status := "ok"
	if summary.Failures > 0 {
		status = "partial"
	}
	snapshotRefreshRunsTotal.WithLabelValues(status).Inc()
	snapshotsRefreshedTotal.Add(float64(summary.SnapshotsRefreshed))
	return summary, nil
}

// RunRetentionOnce deletes conversations older than the configured max
// age, messages included.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return RetentionSummary{}, fmt.Errorf("catalog is required")
	}

	cutoff := s.Clock().Add(-s.Config.ConversationMaxAge)
	deleted, err := s.Catalog.DeleteConversationsBefore(ctx, cutoff)
	if err != nil {
		retentionRunsTotal.WithLabelValues("error").Inc()
		return RetentionSummary{Cutoff: cutoff}, fmt.Errorf("delete expired conversations: %w", err)
	}
	retentionRunsTotal.WithLabelValues("ok").Inc()
	conversationsPurgedTotal.Add(float64(deleted))
	return RetentionSummary{Cutoff: cutoff, ConversationsDeleted: deleted}, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.SnapshotRefreshInterval <= 0 {
		s.Config.SnapshotRefreshInterval = 30 * time.Minute
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = 6 * time.Hour
	}
	if s.Config.ConversationMaxAge <= 0 {
		s.Config.ConversationMaxAge = 90 * 24 * time.Hour
	}
}
