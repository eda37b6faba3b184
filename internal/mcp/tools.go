package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	agion "github.com/agion-ai/agion-go"
	"github.com/agion-ai/agion-go/internal/audit"
)

func (s *Server) registerTools() {
	checkTool := mcp.NewTool("check_permission",
		mcp.WithDescription("Check whether an actor may access a governed resource. Returns the decision, reason, and remaining quota."),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("Actor requesting access")),
		mcp.WithString("resource_id", mcp.Required(), mcp.Description("Governed resource id")),
		mcp.WithString("permission_type", mcp.Description("use, read, write, execute, or admin (default use)")),
	)
	s.mcp.AddTool(checkTool, s.handleCheckPermission)

	policiesTool := mcp.NewTool("list_policies",
		mcp.WithDescription("List the policy rules currently loaded in the local engine, in evaluation order."),
	)
	s.mcp.AddTool(policiesTool, s.handleListPolicies)

	logTool := mcp.NewTool("decision_log",
		mcp.WithDescription("Query recent permission decisions from the local decision log."),
		mcp.WithString("actor_id", mcp.Description("Filter by actor")),
		mcp.WithString("resource_id", mcp.Description("Filter by resource")),
		mcp.WithBoolean("denied_only", mcp.Description("Only show denials")),
		mcp.WithNumber("limit", mcp.Description("Max entries to return (default 20)")),
	)
	s.mcp.AddTool(logTool, s.handleDecisionLog)

	metricsTool := mcp.NewTool("client_metrics",
		mcp.WithDescription("Snapshot of governance client counters: checks, cache hits, sync and event activity."),
	)
	s.mcp.AddTool(metricsTool, s.handleMetrics)
}

func (s *Server) handleCheckPermission(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actorID, err := req.RequireString("actor_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resourceID, err := req.RequireString("resource_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	permType := agion.PermissionType(req.GetString("permission_type", string(agion.PermissionUse)))

	result, err := s.client.CheckPermission(ctx, actorID, agion.ActorAgent, resourceID, permType, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("check failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleListPolicies(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.client.Engine().Current()
	out := map[string]any{
		"version": snap.Version,
		"loaded":  snap.Loaded,
		"rules":   snap.Rules(),
	}
	return jsonResult(out)
}

func (s *Server) handleDecisionLog(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(req.GetFloat("limit", 20))
	entries, err := s.client.DecisionLog(audit.QueryOpts{
		ActorID:    req.GetString("actor_id", ""),
		ResourceID: req.GetString("resource_id", ""),
		DeniedOnly: req.GetBool("denied_only", false),
		Limit:      limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if entries == nil {
		return mcp.NewToolResultText("decision log is not configured"), nil
	}
	return jsonResult(entries)
}

func (s *Server) handleMetrics(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.client.Metrics())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
