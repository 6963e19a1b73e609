package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
)

// Store implements pipeline snapshot and journal storage on any supported SQL dialect.
// Both the postgresql and sqlite drivers embed it.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
}

func NewStore(db *sql.DB, logger *slog.Logger, dialect Dialect) *Store {
	return &Store{
		db:      db,
		logger:  logger,
		dialect: dialect,
	}
}

// DB exposes the underlying pool for driver specific maintenance.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveSnapshot upserts the snapshot unless a newer sequence is already stored.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *models.PipelineSnapshot) error {
	submissionID := snapshot.Input.SubmissionID

	if err := persistence.ValidateSubmissionID(submissionID); err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	terminalState := models.TerminalStateRunning
	if snapshot.Progress != nil {
		terminalState = snapshot.Progress.TerminalState
	}

	query := s.dialect.Rebind(`
		INSERT INTO pipeline_snapshots (submission_id, seq, terminal_state, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (submission_id) DO UPDATE SET
			seq = excluded.seq,
			terminal_state = excluded.terminal_state,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
		WHERE pipeline_snapshots.seq <= excluded.seq
	`)

	result, err := s.db.ExecContext(ctx, query, submissionID, snapshot.Seq, string(terminalState), string(data), snapshot.UpdatedAt.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save snapshot", "submission_id", submissionID, "error", err)

		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	if affected == 0 {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, persistence.ErrStaleSnapshot)
	}

	return nil
}

func (s *Store) SnapshotByID(ctx context.Context, submissionID string) (*models.PipelineSnapshot, error) {
	var data []byte

	query := s.dialect.Rebind(`SELECT snapshot FROM pipeline_snapshots WHERE submission_id = ?`)

	err := s.db.QueryRowContext(ctx, query, submissionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, persistence.ErrSnapshotNotFound)
	}

	if err != nil {
		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, err)
	}

	return decodeSnapshot(submissionID, data)
}

func (s *Store) ActiveSnapshots(ctx context.Context) ([]*models.PipelineSnapshot, error) {
	query := s.dialect.Rebind(`
		SELECT submission_id, snapshot FROM pipeline_snapshots
		WHERE terminal_state = ?
		ORDER BY updated_at ASC
	`)

	rows, err := s.db.QueryContext(ctx, query, string(models.TerminalStateRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query active snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PipelineSnapshot

	for rows.Next() {
		var (
			submissionID string
			data         []byte
		)

		if err := rows.Scan(&submissionID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snapshot, err := decodeSnapshot(submissionID, data)
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snapshots, nil
}

// AppendJournal stores the record. A record replayed with the same sequence replaces the earlier one.
func (s *Store) AppendJournal(ctx context.Context, record models.JournalRecord) error {
	if err := persistence.ValidateSubmissionID(record.SubmissionID); err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	query := s.dialect.Rebind(`
		INSERT INTO pipeline_journal (submission_id, seq, kind, stage, record, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (submission_id, seq) DO UPDATE SET
			kind = excluded.kind,
			stage = excluded.stage,
			record = excluded.record,
			recorded_at = excluded.recorded_at
	`)

	_, err = s.db.ExecContext(ctx, query, record.SubmissionID, record.Seq, string(record.Kind), string(record.Stage), string(data), record.At.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to append journal record", "submission_id", record.SubmissionID, "seq", record.Seq, "error", err)

		return persistence.NewSnapshotError("AppendJournal", record.SubmissionID, err)
	}

	return nil
}

func (s *Store) Journal(ctx context.Context, submissionID string) ([]models.JournalRecord, error) {
	query := s.dialect.Rebind(`SELECT record FROM pipeline_journal WHERE submission_id = ? ORDER BY seq ASC`)

	rows, err := s.db.QueryContext(ctx, query, submissionID)
	if err != nil {
		return nil, persistence.NewSnapshotError("Journal", submissionID, err)
	}
	defer rows.Close()

	records := []models.JournalRecord{}

	for rows.Next() {
		var data []byte

		if err := rows.Scan(&data); err != nil {
			return nil, persistence.NewSnapshotError("Journal", submissionID, err)
		}

		var record models.JournalRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, persistence.NewSnapshotError("Journal", submissionID, err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewSnapshotError("Journal", submissionID, err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func decodeSnapshot(submissionID string, data []byte) (*models.PipelineSnapshot, error) {
	var snapshot models.PipelineSnapshot

	err := json.Unmarshal(data, &snapshot)
	if err != nil {
		return nil, persistence.NewSnapshotError("decodeSnapshot", submissionID, err)
	}

	return &snapshot, nil
}
