package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSimServer(t *testing.T) {
	s := NewSimServer(SimServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.registry)
}

func TestToolRegistration(t *testing.T) {
	s := NewSimServer(SimServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 6)

	expectedTools := []string{
		"machine.load",
		"machine.step",
		"machine.reset",
		"machine.inspect",
		"machine.diagram",
		"machine.unload",
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
		{"load", "machine.load", "Instantiate a state machine from a diagram document"},
		{"step", "machine.step", "Advance a machine by one step with an optional event"},
		{"reset", "machine.reset", "Reset a machine to its initial state and variables"},
		{"inspect", "machine.inspect", "Read machine state and variables, optionally through a jq query"},
		{"diagram", "machine.diagram", "Render the machine's diagram with the active state highlighted"},
		{"unload", "machine.unload", "Dispose of a machine instance"},
	}

	s := NewSimServer(SimServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
