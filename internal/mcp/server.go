// Package mcp exposes the pipeline over the Model Context Protocol so
// other agent hosts can start runs and inspect their progress.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"socialtracker/backend/internal/memory"
	"socialtracker/backend/internal/repository"
)

// Processor starts or continues a pipeline run.
type Processor interface {
	Process(teamID, channel, threadTS, userMessage string)
}

type Server struct {
	mcpServer     *server.MCPServer
	conversations repository.ConversationStore
	processor     Processor
}

func NewServer(conversations repository.ConversationStore, processor Processor) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Social Media Tracker",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		conversations: conversations,
		processor:     processor,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_report",
			mcp.WithDescription("Start or continue a social media tracking run for a Slack conversation"),
			mcp.WithString("team_id", mcp.Required(), mcp.Description("Slack workspace id")),
			mcp.WithString("channel", mcp.Required(), mcp.Description("Slack channel id for delivery")),
			mcp.WithString("thread_ts", mcp.Description("Thread timestamp, empty for a new conversation")),
			mcp.WithString("request", mcp.Required(), mcp.Description("What to track, e.g. '#gaming trends this week'")),
		),
		s.handleRunReport,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_conversation",
			mcp.WithDescription("Inspect the stored state and stage results of a tracking conversation"),
			mcp.WithString("team_id", mcp.Required(), mcp.Description("Slack workspace id")),
			mcp.WithString("channel", mcp.Required(), mcp.Description("Slack channel id")),
			mcp.WithString("thread_ts", mcp.Description("Thread timestamp, empty for a channel-level conversation")),
		),
		s.handleGetConversation,
	)
}

func (s *Server) handleRunReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	teamID, _ := args["team_id"].(string)
	channel, _ := args["channel"].(string)
	threadTS, _ := args["thread_ts"].(string)
	userRequest, _ := args["request"].(string)
	if teamID == "" || channel == "" || userRequest == "" {
		return mcp.NewToolResultError("Missing required parameters: team_id, channel, request"), nil
	}

	s.processor.Process(teamID, channel, threadTS, userRequest)
	return mcp.NewToolResultText(fmt.Sprintf("Started tracking run for conversation %s", memory.Key(teamID, channel, threadTS))), nil
}

func (s *Server) handleGetConversation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	teamID, _ := args["team_id"].(string)
	channel, _ := args["channel"].(string)
	threadTS, _ := args["thread_ts"].(string)
	if teamID == "" || channel == "" {
		return mcp.NewToolResultError("Missing required parameters: team_id, channel"), nil
	}

	state, err := s.conversations.Get(ctx, memory.Key(teamID, channel, threadTS))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load conversation: %v", err)), nil
	}
	if state == nil {
		return mcp.NewToolResultError("No active conversation for that key"), nil
	}

	jsonBytes, _ := json.Marshal(state)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
