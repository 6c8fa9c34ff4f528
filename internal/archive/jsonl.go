package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rendis/conductor/pkg/schema"
)

// JSONLArchive appends run results to a local JSONL file, one document per
// line. The zero-infrastructure archivist for demos and development.
type JSONLArchive struct {
	path string
	mu   sync.Mutex
}

// NewJSONLArchive creates a JSONLArchive writing to path. The file and its
// parent directory are created on first store.
func NewJSONLArchive(path string) *JSONLArchive {
	return &JSONLArchive{path: path}
}

func (a *JSONLArchive) StoreRun(_ context.Context, result *schema.RunResult) (string, error) {
	if result == nil || result.RunID == "" {
		return "", fmt.Errorf("archive: run result must carry a run_id")
	}

	rec := Record{RunResult: *result, StoredAt: time.Now().UTC()}
	rec.ArchiveRef = result.RunID
	line, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("archive: marshal run %s: %w", result.RunID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", a.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("archive: write run %s: %w", result.RunID, err)
	}
	return result.RunID, nil
}
