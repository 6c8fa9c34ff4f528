package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// AgentNotifier pushes run notifications to connected clients.
type AgentNotifier interface {
	Notify(ctx context.Context, runID string, payload map[string]any) error
}

// MCPNotifier implements AgentNotifier using MCP SSE push to the session
// that owns the run.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP SSE.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the run's owning session. Best-effort:
// returns nil if no session owns the run.
func (n *MCPNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
