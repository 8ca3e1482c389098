package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// vigil://keys — non-secret inventory of issued API keys
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"vigil://keys",
			"Issued API Keys",
			mcp.WithResourceDescription(
				"Inventory of API keys issued by this Vigil instance: name, "+
					"display prefix, permissions, usage counters, and status. "+
					"Key secrets are never included.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)
}

// handleKeysResource returns the key inventory as JSON.
func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.listKeySummaries(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	b, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keys: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "vigil://keys",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
