// Package mcp exposes the camera session as Model Context Protocol tools
// over SSE, so an external assistant can ask about what the wearer saw.
package mcptransport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"glass-server-go/internal/domain/agent"
	"glass-server-go/internal/platform/config"
	"glass-server-go/internal/platform/logging"
	"glass-server-go/internal/platform/observability"
)

const serverVersion = "1.0.0"

// App is the session surface exposed as tools.
type App interface {
	Ask(ctx context.Context, question string) (string, bool)
	RequestCapture(ctx context.Context) error
	Interpretations() []agent.Interpretation
	Describe(ctx context.Context, id uint64) (string, error)
	ClearPhotos(ctx context.Context) error
}

type Server struct {
	app    App
	logger *logging.Logger
	addr   string
	mcp    *server.MCPServer
	sse    *server.SSEServer
}

func NewServer(app App, cfg config.MCPConfig, name string, logger *logging.Logger) (*Server, error) {
	if app == nil {
		return nil, errors.New("mcp server requires an app")
	}
	if name == "" {
		name = "glass-server"
	}
	s := &Server{
		app:    app,
		logger: logger,
		addr:   cfg.Addr,
		mcp: server.NewMCPServer(name, serverVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()

	var sseOpts []server.SSEOption
	if cfg.BaseURL != "" {
		sseOpts = append(sseOpts, server.WithBaseURL(cfg.BaseURL))
	}
	s.sse = server.NewSSEServer(s.mcp, sseOpts...)
	return s, nil
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("ask_camera",
		mcp.WithDescription("Answer a question about what the wearer of the camera has seen."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
	), s.instrument("ask_camera", s.handleAsk))

	s.mcp.AddTool(mcp.NewTool("capture_photo",
		mcp.WithDescription("Ask the wearable camera to take a photo now."),
	), s.instrument("capture_photo", s.handleCapture))

	s.mcp.AddTool(mcp.NewTool("list_observations",
		mcp.WithDescription("List the photos of the current session with their descriptions."),
	), s.instrument("list_observations", s.handleList))

	s.mcp.AddTool(mcp.NewTool("describe_photo",
		mcp.WithDescription("Describe one photo of the current session."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Photo ID")),
	), s.instrument("describe_photo", s.handleDescribe))

	s.mcp.AddTool(mcp.NewTool("clear_session",
		mcp.WithDescription("Forget all photos and start a new session."),
	), s.instrument("clear_session", s.handleClear))
}

type toolHandler = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

func (s *Server) instrument(tool string, next toolHandler) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, end := observability.StartSpan(ctx, "mcp", tool)
		res, err := next(ctx, req)
		end(err)
		status := "ok"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
		}
		observability.RecordMetric(ctx, "mcp_tool_calls_total", 1, map[string]string{"tool": tool, "status": status})
		s.logger.DebugTag("MCP", "tool %s -> %s", tool, status)
		return res, err
	}
}

// arguments normalizes the call arguments, whose static type differs
// between protocol revisions.
func arguments(req mcp.CallToolRequest) map[string]any {
	switch args := any(req.Params.Arguments).(type) {
	case map[string]any:
		return args
	default:
		return nil
	}
}

func (s *Server) handleAsk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, _ := arguments(req)["question"].(string)
	question = strings.TrimSpace(question)
	if question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}
	answer, accepted := s.app.Ask(ctx, question)
	if !accepted {
		return mcp.NewToolResultError("an answer is already being prepared, try again shortly"), nil
	}
	return mcp.NewToolResultText(answer), nil
}

func (s *Server) handleCapture(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.app.RequestCapture(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("capture requested"), nil
}

func (s *Server) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items := s.app.Interpretations()
	if len(items) == 0 {
		return mcp.NewToolResultText("no photos in this session"), nil
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "#%d (%s): %s\n", it.Photo.ID, it.Photo.ReceivedAt.Format(time.RFC3339), it.Description)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) handleDescribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := arguments(req)["id"].(float64)
	if !ok || raw < 1 || raw != float64(uint64(raw)) {
		return mcp.NewToolResultError("id must be a positive integer"), nil
	}
	desc, err := s.app.Describe(ctx, uint64(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(desc), nil
}

func (s *Server) handleClear(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.app.ClearPhotos(ctx); err != nil {
		return nil, err
	}
	return mcp.NewToolResultText("session cleared"), nil
}

// Handler serves the SSE endpoints, for mounting into another server.
func (s *Server) Handler() http.Handler {
	return s.sse
}

// Start serves on the configured address until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoTag("MCP", "listening on %s", s.addr)
		errCh <- s.sse.Start(s.addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.sse.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
