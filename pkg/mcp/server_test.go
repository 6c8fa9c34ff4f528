package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConductorServer(t *testing.T) {
	s := NewConductorServer(ConductorServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.sessions)
}

func TestToolRegistration(t *testing.T) {
	s := NewConductorServer(ConductorServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"run.start",
		"run.message",
		"run.decide",
		"run.status",
		"run.query",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"start", "run.start", "Start a run: plan steps for an intent against a tool and execute them"},
		{"message", "run.message", "Answer a planner information request for a run"},
		{"decide", "run.decide", "Resolve a failed step of a run"},
		{"status", "run.status", "Get the current state of a run, live or archived"},
		{"query", "run.query", "Search archived runs, optionally reshaping each record with a jq expression"},
	}

	s := NewConductorServer(ConductorServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
