// Package mcp exposes dataset tools over the Model Context Protocol so
// assistants can query datasets, list them, and inspect commit history
// through the same core services the HTTP surface uses.
package mcp

import (
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/saurabh22suman/oreo.io-v3/pkg/config"
	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/query"
)

// Server is the MCP protocol server.
type Server struct {
	cfg     *config.MCPConfig
	adapter *delta.Adapter
	surface *query.Surface
}

// NewServer creates an MCP server over the core services.
func NewServer(cfg *config.MCPConfig, adapter *delta.Adapter, surface *query.Surface) *Server {
	return &Server{cfg: cfg, adapter: adapter, surface: surface}
}

// Start starts the MCP server over streamable HTTP (blocking).
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	deps := &ToolDeps{Adapter: s.adapter, Surface: s.surface}

	srv := mcpserver.NewMCPServer(
		"oreo-delta",
		"3.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool("query_dataset",
		mcp.WithDescription("Run a read-only SQL query against one dataset's main table, registered as table t"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset id")),
		mcp.WithString("sql", mcp.Required(), mcp.Description("SELECT statement over table t")),
	), deps.HandleQueryDataset)

	srv.AddTool(mcp.NewTool("list_datasets",
		mcp.WithDescription("List every dataset under the data root"),
	), deps.HandleListDatasets)

	srv.AddTool(mcp.NewTool("dataset_history",
		mcp.WithDescription("Return the commit history of a dataset's main table"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset id")),
	), deps.HandleDatasetHistory)

	srv.AddTool(mcp.NewTool("dataset_stats",
		mcp.WithDescription("Return row/column counts and the latest operation metrics of a dataset"),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("dataset", mcp.Required(), mcp.Description("Dataset id")),
	), deps.HandleDatasetStats)

	httpSrv := mcpserver.NewStreamableHTTPServer(srv, mcpserver.WithEndpointPath("/mcp"))
	log.Printf("[MCP] listening on %s", addr)
	return httpSrv.Start(addr)
}
