package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/avlrun/internal/script"
)

type workspaceParams struct{}

func (h *handler) workspaceHandler(ctx context.Context, req *mcp.CallToolRequest, _ workspaceParams) (*mcp.CallToolResult, any, error) {
	eng := h.currentEngine()
	cfg := eng.Config

	var b strings.Builder
	fmt.Fprintf(&b, "Root: %s\n", eng.Root)
	fmt.Fprintf(&b, "Marker: %s\n", cfg.MarkerText())
	if t := cfg.Timeout(); t > 0 {
		fmt.Fprintf(&b, "Timeout: %s\n", t)
	} else {
		fmt.Fprintln(&b, "Timeout: none")
	}
	fmt.Fprintln(&b)

	scripts, err := script.Discover(eng.Root, cfg.ScriptDirs())
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list scripts: %v", err))
	}
	if len(scripts) == 0 {
		fmt.Fprintf(&b, "No executable scripts under %s.\n", strings.Join(cfg.ScriptDirs(), ", "))
		return textResult(b.String())
	}

	fmt.Fprintf(&b, "Scripts (%d):\n", len(scripts))
	for _, s := range scripts {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	return textResult(b.String())
}
