package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/groupdesk/internal/fault"
	"github.com/kalambet/groupdesk/internal/router"
	"github.com/kalambet/groupdesk/internal/session"
)

// ContextReader reads a sender's pending context window.
type ContextReader interface {
	Read(ctx context.Context, senderID string) (*session.Window, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Processor MessageProcessor
	Sessions  ContextReader
	Drafts    DraftLister
}

// NewMCPServer creates an MCP server exposing the pipeline as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"groupdesk",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("groupdesk triages property-management group chat messages into repair ticket drafts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("process_message",
			mcp.WithDescription("Run one group chat message through dedup, context merge and classification. Returns the outcome and any draft."),
			mcp.WithString("senderId", mcp.Description("Sender id"), mcp.Required()),
			mcp.WithString("groupId", mcp.Description("Group id"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Message text")),
			mcp.WithString("imageUrl", mcp.Description("Optional image URL")),
			mcp.WithNumber("timestampMillis", mcp.Description("Message time in epoch milliseconds")),
		),
		mcpProcessMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("get_context",
			mcp.WithDescription("Show the pending conversation context held for a sender."),
			mcp.WithString("senderId", mcp.Description("Sender id"), mcp.Required()),
		),
		mcpGetContext(deps),
	)

	s.AddTool(
		mcp.NewTool("list_drafts",
			mcp.WithDescription("List pending ticket drafts of a group, newest first."),
			mcp.WithString("groupId", mcp.Description("Group id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of drafts (default 20)")),
		),
		mcpListDrafts(deps),
	)

	return s
}

func mcpProcessMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		senderID, err := req.RequireString("senderId")
		if err != nil {
			return mcpError("senderId is required"), nil
		}
		groupID, err := req.RequireString("groupId")
		if err != nil {
			return mcpError("groupId is required"), nil
		}
		msg := router.Message{
			SenderID:        senderID,
			GroupID:         groupID,
			Content:         req.GetString("content", ""),
			ImageURL:        req.GetString("imageUrl", ""),
			TimestampMillis: int64(req.GetFloat("timestampMillis", 0)),
		}

		res, err := deps.Processor.ProcessTraced(ctx, uuid.NewString(), msg)
		if err != nil {
			return mcpError(fmt.Sprintf("%s: %v", fault.KindOf(err), err)), nil
		}
		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		senderID, err := req.RequireString("senderId")
		if err != nil {
			return mcpError("senderId is required"), nil
		}
		w, err := deps.Sessions.Read(ctx, senderID)
		if err != nil {
			return mcpError(fmt.Sprintf("reading context failed: %v", err)), nil
		}
		if w == nil {
			return mcpText("no pending context"), nil
		}

		type contextResult struct {
			Merged           string   `json:"merged"`
			Images           []string `json:"images,omitempty"`
			Items            int      `json:"items"`
			LastUpdateMillis int64    `json:"lastUpdateMillis"`
		}
		b, err := json.Marshal(contextResult{
			Merged:           w.MergedText(),
			Images:           w.Images(""),
			Items:            w.Len(),
			LastUpdateMillis: w.LastUpdateMillis,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal context: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDrafts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		groupID, err := req.RequireString("groupId")
		if err != nil {
			return mcpError("groupId is required"), nil
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}

		drafts, err := deps.Drafts.ListPendingDrafts(ctx, groupID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing drafts failed: %v", err)), nil
		}
		if len(drafts) == 0 {
			return mcpText("[]"), nil
		}
		views := make([]draftView, len(drafts))
		for i, d := range drafts {
			views[i] = newDraftView(d)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal drafts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
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
