// Package archive persists finished runs. Archiving is best-effort from the
// run's point of view: a failed archive never changes a run's status.
package archive

import (
	"context"
	"time"

	"github.com/rendis/conductor/pkg/schema"
)

// Record is a run result as stored, with the archive bookkeeping fields.
type Record struct {
	schema.RunResult
	StoredAt time.Time `json:"stored_at"`
}

// Archivist persists one run result and returns its archive reference.
type Archivist interface {
	StoreRun(ctx context.Context, result *schema.RunResult) (string, error)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	ToolKey string
	Status  schema.RunStatus
	Limit   int
}
