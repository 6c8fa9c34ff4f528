package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/conductor/internal/archive"
	"github.com/rendis/conductor/internal/registry"
)

// RunReader is the archive read path the server needs for status and query.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*archive.Record, error)
	ListRuns(ctx context.Context, filter archive.RunFilter) ([]*archive.Record, error)
}

// ConductorServerDeps holds the dependencies for creating a ConductorServer.
type ConductorServerDeps struct {
	Runs       *RunManager
	Archive    RunReader
	Querier    *archive.Querier
	Registries *registry.Loader
	Logger     *slog.Logger
}

// ConductorServer wraps an MCP server with the run lifecycle tools.
type ConductorServer struct {
	runs       *RunManager
	archive    RunReader
	querier    *archive.Querier
	registries *registry.Loader
	sessions   *SessionRegistry
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewConductorServer creates a ConductorServer with all 5 tools registered
// and SSE push wired to the run manager.
func NewConductorServer(deps ConductorServerDeps) *ConductorServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ConductorServer{
		runs:       deps.Runs,
		archive:    deps.Archive,
		querier:    deps.Querier,
		registries: deps.Registries,
		sessions:   NewSessionRegistry(),
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"conductor",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Conductor plans and executes multi-step runs against external tools, pausing for human input. Use run.start to begin a run, run.message to answer the planner's questions, run.decide to resolve a failed step, run.status to inspect a run, and run.query to search archived runs with a jq expression."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	if deps.Runs != nil {
		deps.Runs.SetNotifier(NewMCPNotifier(mcpSrv, s.sessions))
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *ConductorServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ConductorServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *ConductorServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: messageTool(), Handler: s.handleMessage},
		{Tool: decideTool(), Handler: s.handleDecide},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("run.start",
		mcp.WithDescription("Start a run: plan steps for an intent against a tool and execute them"),
		mcp.WithString("tool_key", mcp.Required(), mcp.Description("Key of the operation registry to plan against (e.g. clickup)")),
		mcp.WithString("intent", mcp.Required(), mcp.Description("What the run should accomplish, in natural language")),
		mcp.WithObject("user_context", mcp.Description("Opaque caller context passed to the executor")),
		mcp.WithString("fault_step_id", mcp.Description("Force a failure on this step, to exercise the decision flow")),
	)
}

func messageTool() mcp.Tool {
	return mcp.NewTool("run.message",
		mcp.WithDescription("Answer a planner information request for a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run awaiting a reply")),
		mcp.WithString("text", mcp.Required(), mcp.Description("The user's reply text")),
		mcp.WithObject("metadata", mcp.Description("Structured form values, keyed by field key")),
	)
}

func decideTool() mcp.Tool {
	return mcp.NewTool("run.decide",
		mcp.WithDescription("Resolve a failed step of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run awaiting a decision")),
		mcp.WithString("step_id", mcp.Required(), mcp.Description("ID of the failed step")),
		mcp.WithString("decision", mcp.Required(),
			mcp.Enum("RETRY_STEP", "SKIP_STEP", "SKIP_DEPENDENTS", "REPLAN", "ABORT_RUN"),
			mcp.Description("How to proceed after the failure"),
		),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("run.status",
		mcp.WithDescription("Get the current state of a run, live or archived"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("run.query",
		mcp.WithDescription("Search archived runs, optionally reshaping each record with a jq expression"),
		mcp.WithString("expression", mcp.Description("jq expression applied to each archived record (default: identity)")),
		mcp.WithObject("filter", mcp.Description("Filter criteria: tool_key, status, limit")),
	)
}
