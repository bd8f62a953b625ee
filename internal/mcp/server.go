// Package mcp exposes the memory read APIs as MCP tools over standard
// streams, for AI hosts that speak the protocol. Each tool is a thin
// proxy onto the worker's HTTP surface; the worker stays the single
// owner of the databases.
package mcp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server proxies MCP tool calls to a running worker.
type Server struct {
	baseURL string
	httpc   *http.Client
	version string
}

// NewServer points the proxy at the worker's localhost port.
func NewServer(workerPort int, version string) *Server {
	return &Server{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", workerPort),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		version: version,
	}
}

// Serve runs the stdio loop until the host closes the stream.
func (s *Server) Serve() error {
	srv := server.NewMCPServer("claude-mem", s.version)

	srv.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Semantic search over captured memories. Returns ranked observations."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to search for")),
		mcp.WithString("project", mcp.Description("Restrict to one project")),
		mcp.WithNumber("limit", mcp.Description("Maximum results, default 10")),
	), s.handleSearch)

	srv.AddTool(mcp.NewTool("timeline",
		mcp.WithDescription("Observations surrounding an anchor observation, in id order."),
		mcp.WithNumber("anchor", mcp.Required(), mcp.Description("Anchor observation id")),
		mcp.WithNumber("radius", mcp.Description("How many ids either side, default 5")),
	), s.handleTimeline)

	srv.AddTool(mcp.NewTool("get_observations",
		mcp.WithDescription("Fetch full observation rows by id."),
		mcp.WithString("ids", mcp.Required(), mcp.Description("Comma-separated observation ids")),
	), s.handleGetObservations)

	return server.ServeStdio(srv)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	params := url.Values{"q": {query}}
	if project, _ := args["project"].(string); project != "" {
		params.Set("project", project)
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		params.Set("limit", strconv.Itoa(int(limit)))
	}
	return s.proxy(ctx, "/search?"+params.Encode())
}

func (s *Server) handleTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	anchor, ok := args["anchor"].(float64)
	if !ok {
		return mcp.NewToolResultError("anchor is required"), nil
	}
	radius := 5.0
	if r, ok := args["radius"].(float64); ok && r > 0 {
		radius = r
	}
	return s.proxy(ctx, fmt.Sprintf("/timeline?anchor=%d&radius=%d", int64(anchor), int64(radius)))
}

func (s *Server) handleGetObservations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	ids, _ := args["ids"].(string)
	ids = strings.TrimSpace(ids)
	if ids == "" {
		return mcp.NewToolResultError("ids is required"), nil
	}
	return s.proxy(ctx, "/observations/"+url.PathEscape(ids))
}

// proxy fetches one worker endpoint and returns the body verbatim; the
// worker's envelopes are already model-friendly JSON.
func (s *Server) proxy(ctx context.Context, path string) (*mcp.CallToolResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp, err := s.httpc.Do(httpReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("worker unreachable at %s: %v (is the worker running?)", s.baseURL, err)), nil
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if resp.StatusCode != http.StatusOK {
		return mcp.NewToolResultError(fmt.Sprintf("worker returned %d: %s", resp.StatusCode, body)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}
