package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/medchat/internal/chat"
	"github.com/kalambet/medchat/internal/storage"
)

// MCPHistory lists journaled exchanges, newest first.
type MCPHistory interface {
	ListExchanges(limit, offset int) ([]storage.Exchange, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Service *chat.Service
	History MCPHistory // optional; the history resource is registered only when set
	Version string
}

// NewMCPServer creates an MCP server exposing the chat operation as a tool.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"medchat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("medchat answers medical questions with a local instruction-tuned model."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Ask the local medical model a question and return its answer."),
			mcp.WithString("message", mcp.Description("The question or instruction for the model"), mcp.Required()),
		),
		mcpChat(deps),
	)

	if deps.History != nil {
		s.AddResource(
			mcp.NewResource(
				"medchat://history",
				"Recent Exchanges",
				mcp.WithResourceDescription("Last 10 journaled exchanges"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceHistory(deps),
		)
	}

	return s
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError(chat.ErrNoInput.Error()), nil
		}

		text, err := deps.Service.Complete(ctx, message)
		if err != nil {
			var ie *chat.InferenceError
			if errors.As(err, &ie) {
				return mcpError(ie.Error()), nil
			}
			return mcpError(err.Error()), nil
		}

		return mcpText(text), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		exchanges, err := deps.History.ListExchanges(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list exchanges: %w", err)
		}

		type exchangeSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Message   string `json:"message"`
			Failed    bool   `json:"failed"`
		}

		summaries := make([]exchangeSummary, len(exchanges))
		for i, ex := range exchanges {
			msg := ex.Message
			if utf8.RuneCountInString(msg) > 200 {
				runes := []rune(msg)
				msg = string(runes[:200]) + "..."
			}
			summaries[i] = exchangeSummary{
				ID:        ex.ID,
				CreatedAt: ex.CreatedAt.Format(time.RFC3339),
				Message:   msg,
				Failed:    ex.Error != "",
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal exchanges: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
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
