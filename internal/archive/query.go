package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"
)

// Querier evaluates jq expressions over archived run documents. Each record
// is fed to the expression as one input object; every non-null output value
// becomes one result. Thread-safe: compiled *Code objects are cached and
// reused across goroutines.
type Querier struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewQuerier creates a Querier.
func NewQuerier() *Querier {
	return &Querier{cache: make(map[string]*gojq.Code)}
}

// Run evaluates expression against every record and collects the outputs.
// An expression like `select(.status == "PARTIAL")` filters records;
// `{run_id, status}` reshapes them.
func (q *Querier) Run(ctx context.Context, expression string, records []*Record) ([]any, error) {
	if expression == "" {
		return nil, fmt.Errorf("empty jq expression")
	}

	code, err := q.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	var results []any
	for _, rec := range records {
		doc, err := toPlainObject(rec)
		if err != nil {
			return nil, fmt.Errorf("encode run %s for query: %w", rec.RunID, err)
		}

		iter := code.RunWithContext(ctx, doc)
		for {
			val, ok := iter.Next()
			if !ok {
				break
			}
			if verr, isErr := val.(error); isErr {
				return nil, fmt.Errorf("jq evaluation failed for %q: %w", expression, verr)
			}
			if val != nil {
				results = append(results, val)
			}
		}
	}
	return results, nil
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (q *Querier) getOrCompile(expression string) (*gojq.Code, error) {
	q.mu.RLock()
	if code, ok := q.cache[expression]; ok {
		q.mu.RUnlock()
		return code, nil
	}
	q.mu.RUnlock()

	q.mu.Lock()
	defer q.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := q.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", expression, err)
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", expression, err)
	}

	q.cache[expression] = code
	return code, nil
}

// toPlainObject round-trips a record through JSON so gojq sees only the
// types it understands.
func toPlainObject(rec *Record) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
