// Package mcp exposes the food tracker as Model Context Protocol tools
// so assistants can scan, log and summarise meals. It serves over stdio (the
// `foodtracker mcp` command) or as a streamable HTTP handler mounted by
// `foodtracker serve`.
package mcp

import (
	"context"
	"errors"
	"net/http"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/foodtracker/internal/tracker"
)

// Implementation name and version reported to MCP clients.
const (
	Name    = "foodtracker"
	Version = "1.0.0"
)

// Server wraps the MCP server around a tracker.
type Server struct {
	mcp     *gomcp.Server
	tracker *tracker.Tracker
}

// New registers every food tracker tool on a fresh MCP server.
func New(t *tracker.Tracker) (*Server, error) {
	if t == nil {
		return nil, errors.New("mcp: tracker is required")
	}
	s := &Server{
		mcp:     gomcp.NewServer(&gomcp.Implementation{Name: Name, Version: Version}, nil),
		tracker: t,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *gomcp.Server { return s.mcp }

// Serve runs the server over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcp.Run(ctx, &gomcp.StdioTransport{})
}

// Handler returns a streamable HTTP handler serving this server to every
// session.
func (s *Server) Handler() http.Handler {
	return gomcp.NewStreamableHTTPHandler(func(*http.Request) *gomcp.Server { return s.mcp }, nil)
}
