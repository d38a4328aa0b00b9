package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/avlrun/internal/logging"
	"github.com/deixis/avlrun/internal/workflow"
)

type runParams struct {
	Script string   `json:"script" jsonschema:"path of the script to run, absolute or relative to the repository root"`
	Args   []string `json:"args,omitempty" jsonschema:"arguments passed to the script, one per element"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(params.Script) == "" {
		return errorResult("script is required")
	}

	eng := h.currentEngine()
	transcript := logging.NewTranscript(eng.Config.MaxOutputBytes())
	logger := slog.New(logging.Tee(h.logger.Handler(), transcript))

	res, err := eng.WithLogger(logger).Run(ctx, params.Script, params.Args)
	if err != nil {
		if workflow.IsLaunchError(err) {
			return errorResult(fmt.Sprintf("Could not run %s: %v", params.Script, err))
		}
		return errorResult(fmt.Sprintf("run failed: %v", err))
	}

	return textResult(formatRun(res, transcript))
}

func formatRun(res *workflow.Result, transcript *logging.Transcript) string {
	var b strings.Builder
	rec := res.Record

	if res.Verdict.Passed() {
		fmt.Fprintln(&b, "Status: PASS")
	} else {
		fmt.Fprintln(&b, "Status: FAIL")
	}
	fmt.Fprintf(&b, "Run: %s\n", rec.ID)
	fmt.Fprintf(&b, "Exit status: %d\n", rec.ExitCode)
	fmt.Fprintf(&b, "Lines: %d (%d containing %s)\n", rec.Lines, rec.MarkerLines, rec.Marker)
	fmt.Fprintln(&b)

	if err := res.Err(); err != nil {
		fmt.Fprintf(&b, "Failure: %v\n", err)
		fmt.Fprintln(&b)
	} else if rec.ExitCode != 0 {
		fmt.Fprintf(&b, "Note: the script exited non-zero (%d) but printed no %s; treated as PASS.\n", rec.ExitCode, rec.Marker)
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "Output:")
	for _, line := range strings.Split(strings.TrimRight(transcript.String(), "\n"), "\n") {
		fmt.Fprintf(&b, "    %s\n", line)
	}
	if transcript.Truncated() {
		fmt.Fprintln(&b, "    ... (output truncated)")
	}

	return b.String()
}
