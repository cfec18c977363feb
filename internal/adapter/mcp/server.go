// Package mcp exposes the concierge's read-only surface over the Model
// Context Protocol: availability and listing tools plus plan status.
// Tools that write never appear here; they stay behind confirmation.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/port/toolprovider"
)

// ToolRunner executes a tool call for a tenant.
type ToolRunner interface {
	Execute(ctx context.Context, call toolprovider.Call) (*toolprovider.Result, error)
}

// PlanReader loads a plan scoped to the caller's tenant.
type PlanReader interface {
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
}

// ServerConfig configures the MCP listener.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey returns the bearer key; nil or empty disables authentication.
	APIKey func() string
}

// ServerDeps are the collaborators tool handlers call into. Nil fields
// make the matching tools answer with an error result.
type ServerDeps struct {
	Tools ToolRunner
	Plans PlanReader
	// Specs is every tool the registry serves; only names listed in
	// ReadTools are exposed.
	Specs     []toolprovider.ToolSpec
	ReadTools []string
}

// Server wraps an mcp-go server behind a streamable HTTP endpoint.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	exposed   []toolprovider.ToolSpec
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.exposed = readOnlySpecs(deps.Specs, deps.ReadTools)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the authenticated, tenant-aware HTTP handler.
func (s *Server) Handler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return AuthMiddleware(s.cfg.APIKey, middleware.TenantID(streamable))
}

// Start listens on cfg.Addr in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("mcp server started", "addr", ln.Addr().String(), "tools", len(s.exposed))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	slog.Info("stopping mcp server")
	return s.http.Shutdown(ctx)
}

func readOnlySpecs(specs []toolprovider.ToolSpec, readTools []string) []toolprovider.ToolSpec {
	allowed := make(map[string]bool, len(readTools))
	for _, name := range readTools {
		allowed[name] = true
	}
	var out []toolprovider.ToolSpec
	for _, spec := range specs {
		if allowed[spec.Name] {
			out = append(out, spec)
		}
	}
	return out
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}
