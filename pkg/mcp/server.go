package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/simachine/internal/store"
)

// SimServerDeps holds the dependencies for creating a SimServer.
type SimServerDeps struct {
	Registry *MachineRegistry
	Trace    store.TraceStore
	Logger   *slog.Logger
}

// SimServer wraps an MCP server with state-machine tool handlers.
type SimServer struct {
	registry  *MachineRegistry
	trace     store.TraceStore
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewSimServer creates a new SimServer with all 6 tools registered.
func NewSimServer(deps SimServerDeps) *SimServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewMachineRegistry()
	}

	s := &SimServer{
		registry: registry,
		trace:    deps.Trace,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"simachine",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Simachine executes hierarchical state-machine diagrams. Use machine.load to instantiate a diagram, machine.step to advance it with an optional event, machine.inspect to read variables or run a jq query, machine.reset to restart, machine.diagram to render Mermaid or DOT, and machine.unload to dispose of an instance."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SimServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SimServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Registry returns the machine registry backing this server.
func (s *SimServer) Registry() *MachineRegistry {
	return s.registry
}
