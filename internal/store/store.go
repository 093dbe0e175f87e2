// Package store keeps the history of completed runs.
package store

import (
	"context"

	"github.com/sells-group/zotero-metadata/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Mode  model.RunMode `json:"mode,omitempty"`
	Limit int           `json:"limit,omitempty"`
}

// Store defines the persistence interface for run history.
type Store interface {
	RecordRun(ctx context.Context, summary model.Summary) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}
