package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/simachine/internal/diagram"
	"github.com/rendis/simachine/pkg/schema"
	"github.com/rendis/simachine/pkg/sim"
)

// tools returns the 6 registered MCP tools as ServerTool entries.
func (s *SimServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: loadTool(), Handler: s.handleLoad},
		{Tool: stepTool(), Handler: s.handleStep},
		{Tool: resetTool(), Handler: s.handleReset},
		{Tool: inspectTool(), Handler: s.handleInspect},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: unloadTool(), Handler: s.handleUnload},
	}
}

// --- Tool definitions ---

func loadTool() mcp.Tool {
	return mcp.NewTool("machine.load",
		mcp.WithDescription("Instantiate a state machine from a diagram document"),
		mcp.WithObject("diagram", mcp.Required(), mcp.Description("Diagram document with states and transitions")),
		mcp.WithObject("variables", mcp.Description("Initial simulation variables")),
		mcp.WithBoolean("halt_on_action_error", mcp.Description("Halt the machine when an action script fails (default: log and continue)")),
		mcp.WithString("name", mcp.Description("Human-readable machine name")),
	)
}

func stepTool() mcp.Tool {
	return mcp.NewTool("machine.step",
		mcp.WithDescription("Advance a machine by one step with an optional event"),
		mcp.WithString("machine_id", mcp.Required(), mcp.Description("ID of the machine to step")),
		mcp.WithString("event", mcp.Description("Event name to dispatch (omit for an internal step)")),
	)
}

func resetTool() mcp.Tool {
	return mcp.NewTool("machine.reset",
		mcp.WithDescription("Reset a machine to its initial state and variables"),
		mcp.WithString("machine_id", mcp.Required(), mcp.Description("ID of the machine to reset")),
	)
}

func inspectTool() mcp.Tool {
	return mcp.NewTool("machine.inspect",
		mcp.WithDescription("Read machine state and variables, optionally through a jq query"),
		mcp.WithString("machine_id", mcp.Required(), mcp.Description("ID of the machine to inspect")),
		mcp.WithString("query", mcp.Description("jq expression evaluated against the variable snapshot")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("machine.diagram",
		mcp.WithDescription("Render the machine's diagram with the active state highlighted"),
		mcp.WithString("machine_id", mcp.Required(), mcp.Description("ID of the machine to render")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "dot"),
			mcp.Description("Output format"),
		),
	)
}

func unloadTool() mcp.Tool {
	return mcp.NewTool("machine.unload",
		mcp.WithDescription("Dispose of a machine instance"),
		mcp.WithString("machine_id", mcp.Required(), mcp.Description("ID of the machine to unload")),
	)
}

// --- Handlers ---

// handleLoad validates the diagram document and registers a fresh simulator.
func (s *SimServer) handleLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseStringMap(req, "diagram", nil)
	if doc == nil {
		return mcp.NewToolResultError("diagram is required"), nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram is not serializable: %v", err)), nil
	}

	def, parseErr := diagram.ParseDocument(raw)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid diagram: %v", parseErr)), nil
	}

	opts := []sim.Option{sim.WithLogger(s.logger)}
	if vars := mcp.ParseStringMap(req, "variables", nil); vars != nil {
		opts = append(opts, sim.WithInitialVariables(vars))
	}
	if req.GetBool("halt_on_action_error", false) {
		opts = append(opts, sim.WithHaltOnActionError())
	}
	if name := req.GetString("name", ""); name != "" {
		opts = append(opts, sim.WithName(name))
	}
	if s.trace != nil {
		opts = append(opts, sim.WithTraceStore(s.trace))
	}

	machine, newErr := sim.New(def, opts...)
	if newErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build machine: %v", newErr)), nil
	}
	s.registry.Add(machine)

	return marshalResult(map[string]any{
		"machine_id":      machine.ID(),
		"state":           machine.CurrentStateName(),
		"possible_events": machine.PossibleEvents(),
		"trace":           machine.InitialTrace(),
	})
}

// handleStep advances one machine by a single step.
func (s *SimServer) handleStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	machineID, err := req.RequireString("machine_id")
	if err != nil {
		return mcp.NewToolResultError("machine_id is required"), nil
	}
	event := req.GetString("event", "")

	entry, ok := s.registry.Get(machineID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown machine: %s", machineID)), nil
	}

	entry.mu.Lock()
	state, trace, stepErr := entry.sim.Step(ctx, event)
	halted := entry.sim.Halted()
	final := entry.sim.InFinalState()
	events := entry.sim.PossibleEvents()
	entry.mu.Unlock()

	if stepErr != nil {
		var simErr *schema.SimError
		if errors.As(stepErr, &simErr) && simErr.Code == schema.ErrCodeHalted {
			return mcp.NewToolResultError(fmt.Sprintf("machine is halted: %v", stepErr)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("step failed: %v", stepErr)), nil
	}

	return marshalResult(map[string]any{
		"state":           state,
		"trace":           trace,
		"halted":          halted,
		"in_final_state":  final,
		"possible_events": events,
	})
}

// handleReset restores a machine to its initial configuration.
func (s *SimServer) handleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	machineID, err := req.RequireString("machine_id")
	if err != nil {
		return mcp.NewToolResultError("machine_id is required"), nil
	}

	entry, ok := s.registry.Get(machineID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown machine: %s", machineID)), nil
	}

	entry.mu.Lock()
	trace, resetErr := entry.sim.Reset(ctx)
	state := entry.sim.CurrentStateName()
	events := entry.sim.PossibleEvents()
	entry.mu.Unlock()

	if resetErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reset failed: %v", resetErr)), nil
	}

	return marshalResult(map[string]any{
		"state":           state,
		"trace":           trace,
		"possible_events": events,
	})
}

// handleInspect returns the variable snapshot, or a jq projection of it.
func (s *SimServer) handleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	machineID, err := req.RequireString("machine_id")
	if err != nil {
		return mcp.NewToolResultError("machine_id is required"), nil
	}
	query := req.GetString("query", "")

	entry, ok := s.registry.Get(machineID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown machine: %s", machineID)), nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	result := map[string]any{
		"state":           entry.sim.CurrentStateName(),
		"possible_events": entry.sim.PossibleEvents(),
		"halted":          entry.sim.Halted(),
		"in_final_state":  entry.sim.InFinalState(),
	}

	if query == "" {
		result["variables"] = entry.sim.Variables()
		return marshalResult(result)
	}

	out, queryErr := entry.sim.Query(ctx, query)
	if queryErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", queryErr)), nil
	}
	result["result"] = out
	return marshalResult(result)
}

// handleDiagram renders the machine in the requested format.
func (s *SimServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	machineID, err := req.RequireString("machine_id")
	if err != nil {
		return mcp.NewToolResultError("machine_id is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	entry, ok := s.registry.Get(machineID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown machine: %s", machineID)), nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(entry.sim.Mermaid()), nil
	case "dot":
		return mcp.NewToolResultText(entry.sim.DOT()), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format: %s", format)), nil
	}
}

// handleUnload removes a machine from the registry.
func (s *SimServer) handleUnload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	machineID, err := req.RequireString("machine_id")
	if err != nil {
		return mcp.NewToolResultError("machine_id is required"), nil
	}

	if !s.registry.Remove(machineID) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown machine: %s", machineID)), nil
	}
	return marshalResult(map[string]any{"unloaded": machineID})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
