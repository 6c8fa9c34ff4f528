package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/conductor/internal/archive"
	"github.com/rendis/conductor/internal/run"
	"github.com/rendis/conductor/pkg/schema"
)

// handleStart launches a run and returns its ID. The run keeps going after
// the call returns; progress arrives as SSE notifications and via run.status.
func (s *ConductorServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolKey, err := req.RequireString("tool_key")
	if err != nil {
		return mcp.NewToolResultError("tool_key is required"), nil
	}
	intent, err := req.RequireString("intent")
	if err != nil {
		return mcp.NewToolResultError("intent is required"), nil
	}
	userContext := mcp.ParseStringMap(req, "user_context", nil)
	faultStepID := req.GetString("fault_step_id", "")

	runID, startErr := s.runs.Start(ctx, run.StartRequest{
		ToolKey:     toolKey,
		Intent:      intent,
		UserContext: userContext,
		FaultStepID: faultStepID,
	})
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run start failed: %v", startErr)), nil
	}

	s.captureSession(ctx, runID)
	s.logger.InfoContext(ctx, "run started", "run_id", runID, "tool_key", toolKey)

	return marshalResult(map[string]any{
		"run_id":   runID,
		"tool_key": toolKey,
		"accepted": true,
	})
}

// handleMessage delivers a user reply to a run blocked on a planner form.
func (s *ConductorServer) handleMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}
	metadata := mcp.ParseStringMap(req, "metadata", nil)

	s.captureSession(ctx, runID)

	ok := s.runs.Message(runID, schema.Message{
		Role:     "user",
		Kind:     schema.MessageText,
		Text:     text,
		Metadata: metadata,
	})
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no active run %s", runID)), nil
	}

	return marshalResult(map[string]any{"ok": true, "run_id": runID})
}

// handleDecide delivers an operator decision for a failed step.
func (s *ConductorServer) handleDecide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}
	decision, err := req.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("decision is required"), nil
	}

	s.captureSession(ctx, runID)

	ok := s.runs.Decide(run.DecisionMessage{
		RunID:    runID,
		StepID:   stepID,
		Decision: schema.Decision(decision),
	})
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no active run %s", runID)), nil
	}

	return marshalResult(map[string]any{
		"ok":       true,
		"run_id":   runID,
		"step_id":  stepID,
		"decision": decision,
	})
}

// handleStatus reports a run's state: the live snapshot while the manager
// still tracks it, the archived record otherwise.
func (s *ConductorServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	if h, ok := s.runs.Get(runID); ok {
		s.captureSession(ctx, runID)
		return marshalResult(h.snapshot())
	}

	if s.archive != nil {
		rec, archErr := s.archive.GetRun(ctx, runID)
		if archErr == nil {
			return marshalResult(map[string]any{
				"run_id": runID,
				"phase":  "archived",
				"record": rec,
			})
		}
	}
	return mcp.NewToolResultError(fmt.Sprintf("run %s not found", runID)), nil
}

// handleQuery lists archived runs and optionally reshapes each record with
// a jq expression.
func (s *ConductorServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.archive == nil {
		return mcp.NewToolResultError("no archive configured"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)
	rf := archive.RunFilter{Limit: extractInt(filter, "limit", 50)}
	if toolKey, ok := filter["tool_key"].(string); ok {
		rf.ToolKey = toolKey
	}
	if status, ok := filter["status"].(string); ok {
		rf.Status = schema.RunStatus(status)
	}

	records, listErr := s.archive.ListRuns(ctx, rf)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
	}

	expression := req.GetString("expression", "")
	if expression == "" || s.querier == nil {
		return marshalResult(map[string]any{"runs": records, "count": len(records)})
	}

	results, qErr := s.querier.Run(ctx, expression, records)
	if qErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("jq evaluation failed: %v", qErr)), nil
	}
	return marshalResult(map[string]any{"results": results, "count": len(results)})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the run to the calling MCP session for notifications.
func (s *ConductorServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
