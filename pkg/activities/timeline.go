package activities

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// RecordEvent appends the event to the timeline in <artifactRoot>/<revisionId>/metadata.json.
func (a *CommandActivities) RecordEvent(ctx context.Context, event TimelineEvent) error {
	if event.At.IsZero() {
		event.At = a.now().UTC()
	}

	dir, err := a.stageDir(event.AgentRevisionID, "")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, "metadata.json")

	a.metadataMu.Lock()
	defer a.metadataMu.Unlock()

	metadata, err := readJSON(path)
	if errors.Is(err, fs.ErrNotExist) {
		metadata = map[string]any{}
	} else if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	timeline, _ := metadata["timeline"].([]any)
	metadata["timeline"] = append(timeline, event)

	if err := writeJSON(path, metadata); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	a.logger.DebugContext(ctx, "Timeline event recorded", "event", event.Event, "stage", event.Stage)

	return nil
}

// ReadTimeline returns the raw timeline entries recorded for a revision.
func (a *CommandActivities) ReadTimeline(revisionID string) ([]any, error) {
	if err := validRevision(revisionID); err != nil {
		return nil, err
	}

	metadata, err := readJSON(filepath.Join(a.config.ArtifactRoot, revisionID, "metadata.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	timeline, _ := metadata["timeline"].([]any)

	return timeline, nil
}
