package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/conductor/internal/archive"
	"github.com/rendis/conductor/internal/executor"
	"github.com/rendis/conductor/internal/planner"
	"github.com/rendis/conductor/internal/registry"
	"github.com/rendis/conductor/internal/run"
	"github.com/rendis/conductor/internal/streaming"
	"github.com/rendis/conductor/pkg/schema"
)

// --- Fake archive ---

type fakeArchive struct {
	records map[string]*archive.Record
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{records: make(map[string]*archive.Record)}
}

func (f *fakeArchive) GetRun(_ context.Context, runID string) (*archive.Record, error) {
	rec, ok := f.records[runID]
	if !ok {
		return nil, schema.NewRunErrorf(schema.ErrCodeArchive, schema.SourceOrchestrator,
			"run %s not archived", runID)
	}
	return rec, nil
}

func (f *fakeArchive) ListRuns(_ context.Context, filter archive.RunFilter) ([]*archive.Record, error) {
	out := make([]*archive.Record, 0, len(f.records))
	for _, rec := range f.records {
		if filter.ToolKey != "" && rec.ToolKey != filter.ToolKey {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Helpers ---

func newTestServer(t *testing.T) (*ConductorServer, *fakeArchive) {
	t.Helper()

	loader, err := registry.NewLoader("")
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	orc := &run.Orchestrator{
		Planner:    &planner.Scripted{},
		Executor:   &executor.Simulated{},
		Registries: loader,
		Logger:     logger,
	}

	arch := newFakeArchive()
	runs := NewRunManager(orc, streaming.NewMemoryHub(), logger)
	s := NewConductorServer(ConductorServerDeps{
		Runs:       runs,
		Archive:    arch,
		Querier:    archive.NewQuerier(),
		Registries: loader,
		Logger:     logger,
	})
	t.Cleanup(runs.CancelAll)
	return s, arch
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func startRun(t *testing.T, s *ConductorServer, args map[string]any) string {
	t.Helper()
	result, err := s.handleStart(context.Background(), buildRequest("run.start", args))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		RunID    string `json:"run_id"`
		Accepted bool   `json:"accepted"`
	}
	unmarshalResult(t, result, &out)
	require.True(t, out.Accepted)
	require.NotEmpty(t, out.RunID)
	return out.RunID
}

func waitForPhase(t *testing.T, s *ConductorServer, runID, phase string) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		result, err := s.handleStatus(context.Background(),
			buildRequest("run.status", map[string]any{"run_id": runID}))
		if err != nil || result.IsError {
			return false
		}
		snap = Snapshot{}
		unmarshalResult(t, result, &snap)
		return snap.Phase == phase
	}, 5*time.Second, 5*time.Millisecond, "run %s never reached phase %s", runID, phase)
	return snap
}

// --- Tests ---

func TestStartToolRunsToCompletion(t *testing.T) {
	s, _ := newTestServer(t)

	runID := startRun(t, s, map[string]any{
		"tool_key": "clickup",
		"intent":   "bootstrap a workspace",
	})

	// The scripted planner opens with a form, so the run suspends until a
	// user reply arrives.
	msgResult, err := s.handleMessage(context.Background(), buildRequest("run.message", map[string]any{
		"run_id": runID,
		"text":   "team of 4, medium priority",
	}))
	require.NoError(t, err)
	assert.False(t, msgResult.IsError)

	snap := waitForPhase(t, s, runID, "done")
	require.NotNil(t, snap.Result)
	assert.Equal(t, schema.RunSuccess, snap.Result.Status)
	assert.Equal(t, runID, snap.Result.RunID)
}

func TestStartToolMissingArguments(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleStart(context.Background(),
		buildRequest("run.start", map[string]any{"intent": "no tool key"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleStart(context.Background(),
		buildRequest("run.start", map[string]any{"tool_key": "clickup"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDecideToolAbortsRun(t *testing.T) {
	s, _ := newTestServer(t)

	runID := startRun(t, s, map[string]any{
		"tool_key":      "clickup",
		"intent":        "bootstrap",
		"fault_step_id": "S2",
	})

	_, err := s.handleMessage(context.Background(), buildRequest("run.message", map[string]any{
		"run_id": runID,
		"text":   "defaults are fine",
	}))
	require.NoError(t, err)

	// Wait for the failed step to surface, then abort.
	require.Eventually(t, func() bool {
		h, ok := s.runs.Get(runID)
		if !ok {
			return false
		}
		snap := h.snapshot()
		return snap.Waiting != nil && snap.Waiting.Kind == schema.EventNeedStepDecision
	}, 5*time.Second, 5*time.Millisecond)

	result, err := s.handleDecide(context.Background(), buildRequest("run.decide", map[string]any{
		"run_id":   runID,
		"step_id":  "S2",
		"decision": "ABORT_RUN",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	snap := waitForPhase(t, s, runID, "done")
	require.NotNil(t, snap.Result)
	assert.Equal(t, schema.RunCancelled, snap.Result.Status)
}

func TestMessageToolUnknownRun(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleMessage(context.Background(), buildRequest("run.message", map[string]any{
		"run_id": "nope",
		"text":   "hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDecideToolUnknownRun(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleDecide(context.Background(), buildRequest("run.decide", map[string]any{
		"run_id":   "nope",
		"step_id":  "S1",
		"decision": "SKIP_STEP",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusToolArchivedFallback(t *testing.T) {
	s, arch := newTestServer(t)

	arch.records["run-42"] = &archive.Record{
		RunResult: schema.RunResult{
			RunID:   "run-42",
			Status:  schema.RunSuccess,
			ToolKey: "clickup",
		},
		StoredAt: time.Now().UTC(),
	}

	result, err := s.handleStatus(context.Background(),
		buildRequest("run.status", map[string]any{"run_id": "run-42"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Phase  string          `json:"phase"`
		Record *archive.Record `json:"record"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "archived", out.Phase)
	require.NotNil(t, out.Record)
	assert.Equal(t, "run-42", out.Record.RunID)
}

func TestStatusToolNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleStatus(context.Background(),
		buildRequest("run.status", map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryToolFilterAndExpression(t *testing.T) {
	s, arch := newTestServer(t)

	arch.records["r1"] = &archive.Record{RunResult: schema.RunResult{RunID: "r1", ToolKey: "clickup", Status: schema.RunSuccess}}
	arch.records["r2"] = &archive.Record{RunResult: schema.RunResult{RunID: "r2", ToolKey: "clickup", Status: schema.RunPartial}}
	arch.records["r3"] = &archive.Record{RunResult: schema.RunResult{RunID: "r3", ToolKey: "jira", Status: schema.RunSuccess}}

	result, err := s.handleQuery(context.Background(), buildRequest("run.query", map[string]any{
		"filter": map[string]any{"tool_key": "clickup"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var listed struct {
		Count int `json:"count"`
	}
	unmarshalResult(t, result, &listed)
	assert.Equal(t, 2, listed.Count)

	result, err = s.handleQuery(context.Background(), buildRequest("run.query", map[string]any{
		"expression": "select(.status == \"SUCCESS\") | .run_id",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var shaped struct {
		Results []any `json:"results"`
		Count   int   `json:"count"`
	}
	unmarshalResult(t, result, &shaped)
	assert.Equal(t, 2, shaped.Count)
	assert.ElementsMatch(t, []any{"r1", "r3"}, shaped.Results)
}

func TestQueryToolBadExpression(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleQuery(context.Background(), buildRequest("run.query", map[string]any{
		"expression": "this is not jq",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExtractInt(t *testing.T) {
	assert.Equal(t, 50, extractInt(nil, "limit", 50))
	assert.Equal(t, 10, extractInt(map[string]any{"limit": float64(10)}, "limit", 50))
	assert.Equal(t, 7, extractInt(map[string]any{"limit": 7}, "limit", 50))
	assert.Equal(t, 3, extractInt(map[string]any{"limit": "3"}, "limit", 50))
	assert.Equal(t, 50, extractInt(map[string]any{"limit": "x"}, "limit", 50))
}
