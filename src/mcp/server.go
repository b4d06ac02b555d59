// Package mcp exposes diagnostics over the Model Context Protocol so an
// editor-embedded assistant can query failures without the HTTP port. Tools
// call the same service layer as the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"graphdoctor/src/service"
)

// Server is the stdio MCP server.
type Server struct {
	mcpServer *server.MCPServer
	svc       *service.Service
}

// NewServer creates the MCP server over svc.
func NewServer(svc *service.Service, version string) *Server {
	s := server.NewMCPServer(
		"graphdoctor",
		version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		svc:       svc,
	}
	srv.registerTools()

	return srv
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	recentTool := mcp.NewTool("recent_failures",
		mcp.WithDescription("List the most recent classified failures from the history ring, oldest first. Each entry carries the raw traceback, its category, the originating node context, and its resolution status."),
		mcp.WithNumber("limit",
			mcp.Description("Max entries to return (default: 10)"),
		),
	)

	analyzeTool := mcp.NewTool("analyze_failure",
		mcp.WithDescription("Classify an error traceback and optionally escalate it to the configured model endpoint for an explanation. Text is sanitized before leaving the process."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Raw error text or traceback to analyze"),
		),
		mcp.WithBoolean("escalate",
			mcp.Description("Send the sanitized context to the model endpoint (default: false)"),
		),
		mcp.WithBoolean("no_wait",
			mcp.Description("Fail immediately when the dispatcher is rate limited instead of waiting (default: false)"),
		),
	)

	healthTool := mcp.NewTool("pipeline_health",
		mcp.WithDescription("Report pipeline status and counters: dropped messages, blocked dials, dispatch attempts, queue depth."),
	)

	s.mcpServer.AddTool(recentTool, s.handleRecentFailures)
	s.mcpServer.AddTool(analyzeTool, s.handleAnalyzeFailure)
	s.mcpServer.AddTool(healthTool, s.handlePipelineHealth)
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleRecentFailures(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	if limit < 1 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	entries := s.svc.RecentFailures(ctx, limit)
	jsonBytes, err := json.Marshal(map[string]any{"entries": entries})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal entries: %v", err)), nil
	}

	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleAnalyzeFailure(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := request.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text parameter is required"), nil
	}
	opts := service.AnalyzeOptions{
		Escalate: request.GetBool("escalate", false),
		NoWait:   request.GetBool("no_wait", false),
	}

	result, err := s.svc.Analyze(ctx, text, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}

	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}

	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handlePipelineHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(s.svc.CurrentHealth())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal health: %v", err)), nil
	}

	return mcp.NewToolResultText(string(jsonBytes)), nil
}
