// Package file provides file-based persistence for review pipeline snapshots and journals.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Snapshots live in <root>/snapshots/<submissionId>.json and journals in
// <root>/journal/<submissionId>.jsonl.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

var _ persistence.Persistence = (*Persistence)(nil)

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck reports whether the root directory exists and is a directory. A store that
// has not saved anything yet has no root, which is reported as os.ErrNotExist.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	info, err := os.Stat(fp.root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("persistence root %s is not a directory", fp.root)
	}

	return nil
}
