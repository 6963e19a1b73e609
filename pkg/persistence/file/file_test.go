package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Close(t *testing.T) {
	fp := NewPersistence("./test-data")
	err := fp.Close(t.Context())
	assert.NoError(t, err)
}

func TestPersistence_HealthCheckMissingRoot(t *testing.T) {
	fp := NewPersistence(filepath.Join(t.TempDir(), "absent"))

	err := fp.HealthCheck(t.Context())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersistence_HealthCheckRootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o600))

	err := NewPersistence(root).HealthCheck(t.Context())
	assert.ErrorContains(t, err, "is not a directory")
}

func TestPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		return NewPersistence(t.TempDir())
	})
}

func TestPersistence_SnapshotLayout(t *testing.T) {
	testDir := t.TempDir()
	fp := NewPersistence(testDir)

	require.NoError(t, fp.SaveSnapshot(t.Context(), persistencetest.Snapshot("sub-1", 1)))

	filePath := filepath.Join(testDir, "snapshots", "sub-1.json")
	_, err := os.Stat(filePath)
	require.NoError(t, err)

	_, err = os.Stat(filePath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestPersistence_JournalReplayKeepsLatest(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	ctx := t.Context()

	first := models.JournalRecord{SubmissionID: "sub-1", Seq: 1, Kind: models.JournalStageStarted, At: time.Now().UTC()}
	require.NoError(t, fp.AppendJournal(ctx, first))

	replayed := first
	replayed.Kind = models.JournalStageCompleted
	require.NoError(t, fp.AppendJournal(ctx, replayed))

	records, err := fp.Journal(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.JournalStageCompleted, records[0].Kind)
}

func TestPersistence_CorruptSnapshot(t *testing.T) {
	testDir := t.TempDir()
	fp := NewPersistence(testDir)

	require.NoError(t, os.MkdirAll(filepath.Join(testDir, "snapshots"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(testDir, "snapshots", "broken.json"), []byte("{"), 0600))

	_, err := fp.SnapshotByID(t.Context(), "broken")
	require.Error(t, err)
	assert.False(t, persistence.IsSnapshotNotFound(err))
}
