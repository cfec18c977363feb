package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// ToolPlanStatus is the name of the plan status tool.
const ToolPlanStatus = "get_plan_status"

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	tools := make([]mcpserver.ServerTool, 0, len(s.exposed)+1)
	for _, spec := range s.exposed {
		tools = append(tools, s.capabilityTool(spec))
	}
	tools = append(tools, s.planStatusTool())
	s.mcpServer.AddTools(tools...)
}

func (s *Server) capabilityTool(spec toolprovider.ToolSpec) mcpserver.ServerTool {
	opts := []mcplib.ToolOption{
		mcplib.WithDescription(spec.Description),
		mcplib.WithReadOnlyHintAnnotation(true),
	}
	for _, p := range spec.Params {
		opts = append(opts, mcplib.WithString(p))
	}
	return mcpserver.ServerTool{
		Tool:    mcplib.NewTool(spec.Name, opts...),
		Handler: s.handleCapability(spec.Name),
	}
}

func (s *Server) planStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolPlanStatus,
		mcplib.WithDescription("Get the status and steps of a plan by ID"),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithString("plan_id",
			mcplib.Required(),
			mcplib.Description("The plan ID to check"),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handlePlanStatus,
	}
}

func (s *Server) handleCapability(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		if s.deps.Tools == nil {
			return mcplib.NewToolResultError("tool registry not configured"), nil
		}
		res, err := s.deps.Tools.Execute(ctx, toolprovider.Call{
			Tool:     name,
			Args:     req.GetArguments(),
			TenantID: middleware.TenantIDFromContext(ctx),
		})
		if err != nil {
			var ee *toolprovider.ExecutionError
			if errors.As(err, &ee) {
				return mcplib.NewToolResultError(ee.UserMessage()), nil
			}
			return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("%s failed", name), err), nil
		}
		data, err := json.Marshal(res)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
		}
		return toolResultJSON(string(data)), nil
	}
}

func (s *Server) handlePlanStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Plans == nil {
		return mcplib.NewToolResultError("plan reader not configured"), nil
	}
	planID, ok := req.GetArguments()["plan_id"].(string)
	if !ok || planID == "" {
		return mcplib.NewToolResultError("plan_id is required"), nil
	}
	p, err := s.deps.Plans.GetPlan(ctx, planID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get plan %s", planID), err), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plan", err), nil
	}
	return toolResultJSON(string(data)), nil
}
