// Package mcp provides the avlrun MCP server, registering the harness tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/avlrun"
	"github.com/deixis/avlrun/internal/config"
	"github.com/deixis/avlrun/internal/report"
	"github.com/deixis/avlrun/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu     sync.RWMutex
	engine *workflow.Engine
	store  report.Store
	logger *slog.Logger // server log; relayed script output also goes here
}

// NewServer creates an MCP server with all avlrun tools registered.
// Relayed script output is written to logger as well as returned to the
// client.
func NewServer(cfg *config.Config, root string, store report.Store, logger *slog.Logger) *mcp.Server {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		engine: &workflow.Engine{
			Config: cfg,
			Root:   root,
			Store:  store,
			Logger: logger,
		},
		store:  store,
		logger: logger,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateRootFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "avlrun", Version: avlrun.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "avl_workspace",
		Description: "Summarise the script repository: root, failure marker, timeout and the executable scripts found.",
	}, h.workspaceHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "avl_run",
		Description: `Run one test script and judge it by its output.

The script's stdout and stderr are merged and scanned line by line for the failure marker ([ERR] by default).
The run FAILS if the marker appears, whatever the exit status; it PASSES otherwise, even with a non-zero exit status.
Returns the verdict, the run ID and the script output. Results are stored for avl_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "avl_inspect",
		Description: "Show the stored record of an earlier avl_run by its run ID.",
	}, h.inspectHandler)

	return s
}

// currentEngine returns the engine under the read lock.
func (h *handler) currentEngine() *workflow.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// updateRootFromRoots queries the client for MCP roots and rebases the
// engine on the first file root, reloading its config. It runs during
// session initialization, before any tool calls.
func (h *handler) updateRootFromRoots(ctx context.Context, session *mcp.ServerSession) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}

	loaded, err := config.Load(u.Path)
	if err != nil {
		h.logger.Warn("ignoring client root", slog.String("root", u.Path), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	e := *h.engine
	e.Config = loaded.Config
	e.Root = loaded.RepoRoot
	h.engine = &e
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
