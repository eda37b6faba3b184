// Package mcp exposes governance operations as MCP tools so assistants
// can check permissions, inspect policies, and read the decision log
// over stdio.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	agion "github.com/agion-ai/agion-go"
)

// Server wraps the MCP server with the governance client behind it.
type Server struct {
	mcp    *server.MCPServer
	client *agion.Client
	logger *slog.Logger
}

// NewServer builds an MCP server exposing the governance tools.
func NewServer(client *agion.Client, version string, logger *slog.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			"agion-governance",
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		client: client,
		logger: logger,
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server listening on stdio")
	return server.ServeStdio(s.mcp)
}
