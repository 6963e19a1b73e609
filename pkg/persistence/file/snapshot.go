package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
)

func (fp *Persistence) snapshotsDir() string {
	return filepath.Join(fp.root, "snapshots")
}

func (fp *Persistence) snapshotPath(submissionID string) string {
	return filepath.Join(fp.snapshotsDir(), submissionID+".json")
}

// SaveSnapshot writes the snapshot atomically unless a newer sequence is already on disk.
func (fp *Persistence) SaveSnapshot(_ context.Context, snapshot *models.PipelineSnapshot) error {
	submissionID := snapshot.Input.SubmissionID

	if err := persistence.ValidateSubmissionID(submissionID); err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	current, err := fp.readSnapshot(submissionID)
	if err != nil && !persistence.IsSnapshotNotFound(err) {
		return err
	}

	if current != nil && current.Seq > snapshot.Seq {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, persistence.ErrStaleSnapshot)
	}

	err = os.MkdirAll(fp.snapshotsDir(), 0750)
	if err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	target := fp.snapshotPath(submissionID)
	tmp := target + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	err = os.Rename(tmp, target)
	if err != nil {
		_ = os.Remove(tmp)

		return persistence.NewSnapshotError("SaveSnapshot", submissionID, err)
	}

	return nil
}

func (fp *Persistence) SnapshotByID(_ context.Context, submissionID string) (*models.PipelineSnapshot, error) {
	if err := persistence.ValidateSubmissionID(submissionID); err != nil {
		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.readSnapshot(submissionID)
}

// ActiveSnapshots returns every snapshot whose pipeline has not reached a terminal state,
// oldest update first.
func (fp *Persistence) ActiveSnapshots(_ context.Context) ([]*models.PipelineSnapshot, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	root := os.DirFS(fp.snapshotsDir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot files: %w", err)
	}

	snapshots := make([]*models.PipelineSnapshot, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		snapshot, err := fp.readSnapshot(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		if snapshot.IsFinished() {
			continue
		}

		snapshots = append(snapshots, snapshot)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].UpdatedAt.Before(snapshots[j].UpdatedAt)
	})

	return snapshots, nil
}

func (fp *Persistence) readSnapshot(submissionID string) (*models.PipelineSnapshot, error) {
	data, err := os.ReadFile(fp.snapshotPath(submissionID)) // #nosec G304 -- submissionID is validated
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, persistence.ErrSnapshotNotFound)
		}

		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, err)
	}

	var snapshot models.PipelineSnapshot

	err = json.Unmarshal(data, &snapshot)
	if err != nil {
		return nil, persistence.NewSnapshotError("SnapshotByID", submissionID, err)
	}

	return &snapshot, nil
}
