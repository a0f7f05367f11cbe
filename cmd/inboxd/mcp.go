package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tidemill/inboxd/safety"
)

// registerMCPTools exposes read-only job status to agent tooling.
func registerMCPTools(srv *mcp.Server, jobs *jobStore) {
	registerJobStatusTool(srv, jobs)
	registerListJobsTool(srv, jobs)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type jobStatusReq struct {
	SHA256 string `json:"sha256"`
}

func registerJobStatusTool(srv *mcp.Server, jobs *jobStore) {
	tool := &mcp.Tool{
		Name:        "inboxd_job_status",
		Description: "Get the pipeline status of one ingested document by its sha256 hash.",
		InputSchema: inputSchema(map[string]any{
			"sha256": map[string]any{"type": "string", "description": "Content hash of the job"},
		}, []string{"sha256"}),
	}

	srv.AddTool(tool, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r jobStatusReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if err := safety.ValidateIdentifier(r.SHA256); err != nil {
			return toolError(err), nil
		}
		st, err := jobs.status(r.SHA256)
		if err != nil {
			return toolError(err), nil
		}
		if st == nil {
			return toolError(errors.New("job not found")), nil
		}
		return toolJSON(st)
	})
}

func registerListJobsTool(srv *mcp.Server, jobs *jobStore) {
	tool := &mcp.Tool{
		Name:        "inboxd_list_jobs",
		Description: "List all staged ingestion jobs with their pipeline status.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	srv.AddTool(tool, func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		list, err := jobs.list()
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(map[string]any{"jobs": list, "count": len(list)})
	})
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Errorf("marshal: %w", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
