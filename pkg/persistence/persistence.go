// Package persistence provides the durable storage abstraction for review pipeline state.
package persistence

import (
	"context"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
)

// Persistence stores pipeline snapshots and their append-only journals.
// A snapshot plus its journal is enough to rebuild a pipeline after a restart.
type Persistence interface {
	SaveSnapshot(ctx context.Context, snapshot *models.PipelineSnapshot) error
	SnapshotByID(ctx context.Context, submissionID string) (*models.PipelineSnapshot, error)
	ActiveSnapshots(ctx context.Context) ([]*models.PipelineSnapshot, error)
	AppendJournal(ctx context.Context, record models.JournalRecord) error
	Journal(ctx context.Context, submissionID string) ([]models.JournalRecord, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
