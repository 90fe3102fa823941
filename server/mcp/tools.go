package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/saurabh22suman/oreo.io-v3/pkg/delta"
	"github.com/saurabh22suman/oreo.io-v3/pkg/query"
)

// ToolDeps holds shared dependencies for MCP tool handlers.
type ToolDeps struct {
	Adapter *delta.Adapter
	Surface *query.Surface
}

// HandleQueryDataset runs read-only SQL against one dataset snapshot.
func (d *ToolDeps) HandleQueryDataset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	dataset := request.GetString("dataset", "")
	sql := request.GetString("sql", "")
	if project == "" || dataset == "" || sql == "" {
		return mcp.NewToolResultError("project, dataset and sql parameters are required"), nil
	}

	resp, err := d.Surface.Execute(ctx, query.Request{
		SQL:           sql,
		TableMappings: map[string]string{"t": project + "/" + dataset},
		Limit:         200,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(resp.Columns, "\t"))
	sb.WriteString("\n")
	for _, row := range resp.Rows {
		vals := make([]string, len(resp.Columns))
		for i, col := range resp.Columns {
			vals[i] = fmt.Sprintf("%v", row[col])
		}
		sb.WriteString(strings.Join(vals, "\t"))
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\n(%d of %d rows)", len(resp.Rows), resp.Total))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListDatasets walks the data root for dataset coordinates.
func (d *ToolDeps) HandleListDatasets(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root := d.Adapter.Resolver().Root()
	projectsDir := filepath.Join(root, "projects")

	var sb strings.Builder
	sb.WriteString("Datasets:\n")

	projects, err := os.ReadDir(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return mcp.NewToolResultText("Datasets:\n(none)\n"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to list datasets: %v", err)), nil
	}
	count := 0
	for _, project := range projects {
		if !project.IsDir() {
			continue
		}
		datasets, err := os.ReadDir(filepath.Join(projectsDir, project.Name(), "datasets"))
		if err != nil {
			continue
		}
		for _, dataset := range datasets {
			if !dataset.IsDir() {
				continue
			}
			sb.WriteString(fmt.Sprintf("- %s/%s\n", project.Name(), dataset.Name()))
			count++
		}
	}
	if count == 0 {
		sb.WriteString("(none)\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDatasetHistory returns the commit log of a dataset's main table.
func (d *ToolDeps) HandleDatasetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	dataset := request.GetString("dataset", "")
	if project == "" || dataset == "" {
		return mcp.NewToolResultError("project and dataset parameters are required"), nil
	}

	mainPath, err := d.Adapter.Resolver().Main(project, dataset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := d.Adapter.History(ctx, mainPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("History of %s/%s:\n", project, dataset))
	for _, rec := range history {
		sb.WriteString(fmt.Sprintf("- v%d %s\n", rec.Version, rec.Operation))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleDatasetStats returns counts and head-commit metrics.
func (d *ToolDeps) HandleDatasetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	dataset := request.GetString("dataset", "")
	if project == "" || dataset == "" {
		return mcp.NewToolResultError("project and dataset parameters are required"), nil
	}

	mainPath, err := d.Adapter.Resolver().Main(project, dataset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stats, err := d.Adapter.Stats(ctx, mainPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stats: %v", err)), nil
	}
	metrics, err := d.Adapter.LatestOperationMetrics(ctx, mainPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read metrics: %v", err)), nil
	}

	text := fmt.Sprintf("%s/%s: rows=%d cols=%d head=v%d last_operation=%s (+%d/~%d/-%d)",
		project, dataset, stats.NumRows, stats.NumCols,
		metrics.Version, metrics.Operation,
		metrics.RowsAdded, metrics.RowsUpdated, metrics.RowsDeleted)
	return mcp.NewToolResultText(text), nil
}
