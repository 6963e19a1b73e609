package persistence_test

import (
	"errors"
	"testing"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		err := persistence.NewSnapshotError("SnapshotByID", "sub-123", persistence.ErrSnapshotNotFound)

		assert.True(t, persistence.IsSnapshotNotFound(err))
		assert.False(t, persistence.IsStaleSnapshot(err))
		assert.True(t, errors.Is(err, persistence.ErrSnapshotNotFound))
	})

	t.Run("snapshot error contains context", func(t *testing.T) {
		err := persistence.NewSnapshotError("SaveSnapshot", "sub-123", persistence.ErrStaleSnapshot)

		assert.Contains(t, err.Error(), "SaveSnapshot")
		assert.Contains(t, err.Error(), "sub-123")
		assert.Contains(t, err.Error(), "stale snapshot")
	})
}

func TestValidateSubmissionID(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"sub-1", "3f2a9c", "agent.v2"} {
		assert.NoError(t, persistence.ValidateSubmissionID(id), id)
	}

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "a\nb"} {
		assert.ErrorIs(t, persistence.ValidateSubmissionID(id), persistence.ErrInvalidSubmissionID, id)
	}
}
