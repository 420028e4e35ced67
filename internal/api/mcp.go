package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/grace/internal/companion"
)

const mcpConversationLimit = 10

// NewMCPServer creates an MCP server exposing monitors, chat and memories
// as tools, and status and recent conversations as resources.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"grace",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("grace watches mail, calendar and cameras and decides what deserves attention."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("trigger_monitor",
			mcp.WithDescription("Run one monitor now and return its run summary."),
			mcp.WithString("source",
				mcp.Description("Monitor to run"),
				mcp.Enum("email", "calendar", "wyze"),
				mcp.Required(),
			),
		),
		mcpTriggerMonitor(deps),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Talk to Grace. Recent exchanges are used as context."),
			mcp.WithString("message", mcp.Description("Message to send"), mcp.Required()),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("list_memories",
			mcp.WithDescription("List stored verdicts, optionally filtered by category (emails, calendar, camera)."),
			mcp.WithString("category", mcp.Description("Category filter")),
		),
		mcpListMemories(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"grace://status",
			"Service Status",
			mcp.WithResourceDescription("Memory count and the last run of every monitor"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"grace://conversations",
			"Recent Conversations",
			mcp.WithResourceDescription("Last 10 chat exchanges, oldest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConversations(deps),
	)

	return s
}

func mcpTriggerMonitor(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("source")
		if err != nil {
			return mcpError("source is required"), nil
		}
		entry, ok := deps.monitor(name)
		if !ok {
			return mcpError(fmt.Sprintf("unknown source %q", name)), nil
		}
		m, ok := entry.Monitor.Get()
		if !ok {
			return mcpJSON(entry.Monitor.NotConfigured())
		}

		sum, err := m.Run(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("run failed: %v", err)), nil
		}
		return mcpJSON(sum)
	}
}

func mcpChat(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		reply, err := deps.Companion.Chat(ctx, msg)
		if errors.Is(err, companion.ErrEmptyMessage) {
			return mcpError("message is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpListMemories(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		memories, err := deps.Store.ListMemories(req.GetString("category", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("listing memories failed: %v", err)), nil
		}
		if len(memories) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(memories)
	}
}

func mcpResourceStatus(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st, err := buildStatus(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to build status: %w", err)
		}
		return jsonResource(req.Params.URI, st)
	}
}

func mcpResourceConversations(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		turns, err := deps.Store.RecentConversations(mcpConversationLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent conversations: %w", err)
		}
		if turns == nil {
			return jsonResource(req.Params.URI, []any{})
		}
		return jsonResource(req.Params.URI, turns)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
