// Package history keeps frozen status snapshots of finished runs once they
// leave the registry's live table.
package history

import (
	"errors"

	"github.com/deixis/suiterun/internal/run"
)

// ErrNotFound is returned by Load when no snapshot exists for a run id.
var ErrNotFound = errors.New("run not in history")

// Store persists and retrieves finished run snapshots.
type Store interface {
	Save(status *run.Status) error
	Load(runID string) (*run.Status, error)
}
