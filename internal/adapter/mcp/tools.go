package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all fleet tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listAgentsTool(),
		s.getAgentTool(),
		s.fleetStatsTool(),
	)
}

func (s *Server) listAgentsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_agents",
		mcplib.WithDescription("List all agents in the fleet with their status"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleListAgents,
	}
}

func (s *Server) getAgentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_agent",
		mcplib.WithDescription("Get details of a specific agent by ID"),
		mcplib.WithString("agent_id",
			mcplib.Required(),
			mcplib.Description("The agent ID to look up"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleGetAgent,
	}
}

func (s *Server) fleetStatsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("fleet_stats",
		mcplib.WithDescription("Get fleet-wide utilization and autoscaler statistics"),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleFleetStats,
	}
}

func (s *Server) handleListAgents(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return mcplib.NewToolResultError("fleet reader not configured"), nil
	}
	agents := s.deps.Fleet.List()
	data, err := json.Marshal(agents)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal agents", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetAgent(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return mcplib.NewToolResultError("fleet reader not configured"), nil
	}
	args := req.GetArguments()
	agentID, ok := args["agent_id"].(string)
	if !ok || agentID == "" {
		return mcplib.NewToolResultError("agent_id is required"), nil
	}
	info, err := s.deps.Fleet.Get(agentID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get agent %s", agentID), err,
		), nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal agent", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func (s *Server) handleFleetStats(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Scaler == nil {
		return mcplib.NewToolResultError("scaler reader not configured"), nil
	}
	stats := s.deps.Scaler.Snapshot()
	data, err := json.Marshal(stats)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal fleet stats", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
