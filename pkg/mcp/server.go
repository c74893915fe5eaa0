package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/graphcompose/internal/operations"
	"github.com/rendis/graphcompose/internal/runner"
	"github.com/rendis/graphcompose/internal/store"
)

// GraphServerDeps holds the dependencies for creating a GraphServer.
type GraphServerDeps struct {
	Runner   *runner.Runner
	Registry *operations.Registry
	Store    store.Store
	Logger   *slog.Logger
	Version  string
}

// GraphServer wraps an MCP server with graph tool handlers.
type GraphServer struct {
	runner    *runner.Runner
	registry  *operations.Registry
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewGraphServer creates a GraphServer with all tools registered.
// Store falls back to the runner's store when unset.
func NewGraphServer(deps GraphServerDeps) *GraphServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	st := deps.Store
	if st == nil && deps.Runner != nil {
		st = deps.Runner.Store()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &GraphServer{
		runner:   deps.Runner,
		registry: deps.Registry,
		store:    st,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"graphcompose",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("graphcompose evaluates declarative computation graphs. Use graph.validate to check a ComposableGraph document, graph.plan to inspect its evaluation order, graph.run to evaluate it, graph.operations to list callable functions, and graph.runs to inspect run history."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *GraphServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *GraphServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *GraphServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: planTool(), Handler: s.handlePlan},
		{Tool: operationsTool(), Handler: s.handleOperations},
		{Tool: runsTool(), Handler: s.handleRuns},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("graph.run",
		mcp.WithDescription("Evaluate a ComposableGraph document"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("ComposableGraph document (apiVersion, kind, metadata, spec)")),
		mcp.WithObject("overrides", mcp.Description("Initial-data values replacing spec.inputs for this run")),
		mcp.WithString("run_id", mcp.Description("Run ID (default: generated)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("graph.validate",
		mcp.WithDescription("Validate a ComposableGraph document without running it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("ComposableGraph document")),
	)
}

func planTool() mcp.Tool {
	return mcp.NewTool("graph.plan",
		mcp.WithDescription("Render the evaluation plan of a ComposableGraph document"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("ComposableGraph document")),
		mcp.WithString("format",
			mcp.Enum("levels", "mermaid", "ascii", "image"),
			mcp.Description("Output format (default: levels)"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay node status from this run")),
	)
}

func operationsTool() mcp.Tool {
	return mcp.NewTool("graph.operations",
		mcp.WithDescription("List registered operations and expression schemes"),
		mcp.WithString("namespace", mcp.Description("Only list operations in this namespace")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("graph.runs",
		mcp.WithDescription("Query run history"),
		mcp.WithString("run_id", mcp.Description("Return this run with its node results")),
		mcp.WithObject("filter", mcp.Description("Filter criteria (graph_name, job_name, status, limit, offset)")),
	)
}
