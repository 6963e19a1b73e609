// Package persistencetest holds the behaviour every persistence driver must satisfy.
package persistencetest

import (
	"context"
	"testing"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Snapshot builds a running snapshot for the submission at the given sequence.
func Snapshot(submissionID string, seq int64) *models.PipelineSnapshot {
	input := models.PipelineInput{
		Submission:    models.Submission{SubmissionID: submissionID, AgentID: "agent-1", AgentRevisionID: "rev-1"},
		PromptVersion: "v1",
	}

	progress := models.NewWorkflowProgress(input.Submission)
	progress.Stage(models.StagePrecheck).Status = models.StageStatusCompleted
	progress.Stage(models.StagePrecheck).Attempts = 1
	progress.Stage(models.StagePrecheck).LastUpdatedSeq = seq

	return &models.PipelineSnapshot{
		WorkflowID: models.WorkflowID(submissionID),
		Input:      input,
		Progress:   progress,
		Cursor:     models.StageSecurity,
		Scores: map[models.StageName]models.StageScore{
			models.StagePrecheck: {Ratio: 1, Passed: true},
		},
		Seq:       seq,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// Run exercises a persistence driver. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) persistence.Persistence) {
	t.Helper()

	ctx := context.Background()

	t.Run("missing snapshot", func(t *testing.T) {
		store := newStore(t)

		_, err := store.SnapshotByID(ctx, "absent")
		require.Error(t, err)
		assert.True(t, persistence.IsSnapshotNotFound(err))
	})

	t.Run("save and load snapshot", func(t *testing.T) {
		store := newStore(t)
		snapshot := Snapshot("sub-1", 3)

		require.NoError(t, store.SaveSnapshot(ctx, snapshot))

		loaded, err := store.SnapshotByID(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, snapshot.Seq, loaded.Seq)
		assert.Equal(t, snapshot.Cursor, loaded.Cursor)
		assert.Equal(t, snapshot.Input, loaded.Input)
		assert.Equal(t, models.StageStatusCompleted, loaded.Progress.Stages[models.StagePrecheck].Status)
		assert.Equal(t, snapshot.Scores, loaded.Scores)
		assert.True(t, snapshot.UpdatedAt.Equal(loaded.UpdatedAt))
	})

	t.Run("newer snapshot replaces older", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.SaveSnapshot(ctx, Snapshot("sub-1", 3)))

		newer := Snapshot("sub-1", 5)
		newer.Cursor = models.StageJudge
		require.NoError(t, store.SaveSnapshot(ctx, newer))

		loaded, err := store.SnapshotByID(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), loaded.Seq)
		assert.Equal(t, models.StageJudge, loaded.Cursor)
	})

	t.Run("stale snapshot is rejected", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.SaveSnapshot(ctx, Snapshot("sub-1", 5)))

		err := store.SaveSnapshot(ctx, Snapshot("sub-1", 4))
		require.Error(t, err)
		assert.True(t, persistence.IsStaleSnapshot(err))

		loaded, err := store.SnapshotByID(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), loaded.Seq)
	})

	t.Run("active snapshots exclude finished pipelines", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.SaveSnapshot(ctx, Snapshot("running-1", 1)))
		require.NoError(t, store.SaveSnapshot(ctx, Snapshot("running-2", 1)))

		finished := Snapshot("done-1", 9)
		finished.Progress.TerminalState = models.TerminalStatePublished
		require.NoError(t, store.SaveSnapshot(ctx, finished))

		active, err := store.ActiveSnapshots(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(active))
		for _, snapshot := range active {
			ids = append(ids, snapshot.Input.SubmissionID)
		}

		assert.ElementsMatch(t, []string{"running-1", "running-2"}, ids)

		running := Snapshot("running-1", 2)
		running.Progress.TerminalState = models.TerminalStateRejected
		require.NoError(t, store.SaveSnapshot(ctx, running))

		active, err = store.ActiveSnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "running-2", active[0].Input.SubmissionID)
	})

	t.Run("journal keeps append order", func(t *testing.T) {
		store := newStore(t)

		for seq := int64(1); seq <= 3; seq++ {
			require.NoError(t, store.AppendJournal(ctx, models.JournalRecord{
				SubmissionID: "sub-1",
				Seq:          seq,
				Kind:         models.JournalStageStarted,
				Stage:        models.StagePrecheck,
				Detail:       map[string]any{"attempt": float64(seq)},
				At:           time.Date(2026, 1, 1, 0, 0, int(seq), 0, time.UTC),
			}))
		}

		require.NoError(t, store.AppendJournal(ctx, models.JournalRecord{SubmissionID: "sub-2", Seq: 1, Kind: models.JournalTerminal}))

		records, err := store.Journal(ctx, "sub-1")
		require.NoError(t, err)
		require.Len(t, records, 3)

		for i, record := range records {
			assert.Equal(t, int64(i+1), record.Seq)
			assert.Equal(t, models.JournalStageStarted, record.Kind)
			assert.Equal(t, float64(i+1), record.Detail["attempt"])
		}

		empty, err := store.Journal(ctx, "absent")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("rejects unsafe submission ids", func(t *testing.T) {
		store := newStore(t)

		err := store.SaveSnapshot(ctx, Snapshot("../escape", 1))
		require.ErrorIs(t, err, persistence.ErrInvalidSubmissionID)
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.HealthCheck(ctx))
	})
}
