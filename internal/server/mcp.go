package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/comigor/chatproxy/internal/agent"
)

const mcpServerName = "chatproxy"

// newMCPHandler exposes the chat operations as MCP tools over streamable HTTP.
func newMCPHandler(s *Server) http.Handler {
	srv := mcpserver.NewMCPServer(mcpServerName, "1.0.0", mcpserver.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Send a message in a chat session and return the assistant reply. Omit session_id to start a new session."),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("session_id", mcp.Description("Existing session identifier")),
	), s.mcpChat)

	srv.AddTool(mcp.NewTool("load_history",
		mcp.WithDescription("Return the in-memory conversation of a session as JSON."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), s.mcpLoadHistory)

	srv.AddTool(mcp.NewTool("recent_prompts",
		mcp.WithDescription("Return the latest user prompts of a session with their positions."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), s.mcpRecentPrompts)

	srv.AddTool(mcp.NewTool("clear_session",
		mcp.WithDescription("Forget a session in memory and delete its stored messages."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	), s.mcpClearSession)

	return mcpserver.NewStreamableHTTPServer(srv)
}

func (s *Server) mcpChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	turn, err := s.agent.Process(ctx, req.GetString("session_id", ""), message)
	if errors.Is(err, agent.ErrEmptyMessage) {
		return mcp.NewToolResultError("message is required"), nil
	}
	if err != nil {
		return mcp.NewToolResultError("LLM request failed"), nil
	}
	return jsonResult(struct {
		SessionID string `json:"session_id"`
		Reply     string `json:"reply"`
	}{turn.SessionID, turn.Reply})
}

func (s *Server) mcpLoadHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.loadAll(req.GetString("session_id", "")))
}

func (s *Server) mcpRecentPrompts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.recentChats(req.GetString("session_id", "")))
}

func (s *Server) mcpClearSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.clear(ctx, req.GetString("session_id", ""))
	return jsonResult(statusResponse{Status: "cleared"})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
