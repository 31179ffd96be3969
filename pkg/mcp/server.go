// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const shutdownTimeout = 5 * time.Second

// ToolHandler handles one tool call with decoded arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// Server wraps the mcp-go server for hosting tools.
type Server struct {
	name      string
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string) *Server {
	return &Server{
		name:      name,
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}
}

// Name returns the server name announced during the handshake.
func (s *Server) Name() string { return s.name }

// MCPServer exposes the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// AddTool registers a tool built with the mcp-go tool options.
func (s *Server) AddTool(tool mcp.Tool, handler ToolHandler) {
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		return handler(ctx, args)
	})
}

// ServeSSE serves the tools over SSE on addr (clients connect to /sse) until
// ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sse := server.NewSSEServer(s.mcpServer)
	return serveUntilDone(ctx, s.name, addr, sse.Start, sse.Shutdown)
}

// ServeStreamableHTTP serves the tools over streamable HTTP on addr (clients
// connect to /mcp) until ctx is canceled.
func (s *Server) ServeStreamableHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return serveUntilDone(ctx, s.name, addr, httpServer.Start, httpServer.Shutdown)
}

func serveUntilDone(ctx context.Context, name, addr string, start func(string) error, shutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- start(addr)
	}()
	slog.InfoContext(ctx, "toolserver.listen", "server", name, "addr", addr)

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		slog.InfoContext(ctx, "toolserver.stopped", "server", name)
		return nil
	}
}
