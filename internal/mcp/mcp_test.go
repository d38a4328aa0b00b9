package mcp

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/avlrun/internal/config"
	"github.com/deixis/avlrun/internal/report"
)

// setup creates a full avlrun MCP server + client over in-memory transports.
func setup(t *testing.T, root string, cfg *config.Config) (*mcp.ClientSession, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()

	if cfg == nil {
		cfg = &config.Config{}
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	store := report.NewLRUStore(5, report.NewDiskStore(t.TempDir()))

	server := NewServer(cfg, root, store, logger)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})

	return cs, &logs
}

// scriptRepo creates a temp repository holding the given scripts.
func scriptRepo(t *testing.T, scripts map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range scripts {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var runIDRE = regexp.MustCompile(`Run: ([0-9a-f-]{36})`)

// --- avl_run ---

func TestAvlRun_Pass(t *testing.T) {
	root := scriptRepo(t, map[string]string{"tests/ok.sh": "echo \"hello $1\"\n"})
	cs, logs := setup(t, root, nil)

	res := callTool(t, cs, "avl_run", map[string]any{"script": "tests/ok.sh", "args": []string{"world"}})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Status: PASS", "Exit status: 0", "hello world"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if !strings.Contains(logs.String(), "hello world") {
		t.Errorf("output was not relayed to the server log:\n%s", logs.String())
	}
}

func TestAvlRun_NonZeroExitPasses(t *testing.T) {
	root := scriptRepo(t, map[string]string{"exit.sh": "echo fine\nexit 7\n"})
	cs, _ := setup(t, root, nil)

	text := resultText(callTool(t, cs, "avl_run", map[string]any{"script": "exit.sh"}))
	if !strings.Contains(text, "Status: PASS") {
		t.Errorf("expected Status: PASS, got:\n%s", text)
	}
	if !strings.Contains(text, "exited non-zero (7)") {
		t.Errorf("expected the non-zero exit note, got:\n%s", text)
	}
}

func TestAvlRun_MarkerFails(t *testing.T) {
	root := scriptRepo(t, map[string]string{"bad.sh": "echo A\nprintf '\\033[31m[ERR]\\033[0m C\\n'\n"})
	cs, _ := setup(t, root, nil)

	res := callTool(t, cs, "avl_run", map[string]any{"script": "bad.sh"})
	text := resultText(res)
	if res.IsError {
		t.Fatalf("a failing run should not be a tool error: %s", text)
	}
	for _, want := range []string{"Status: FAIL", "script reported [ERR] (exit status: 0)", "Lines: 2 (1 containing [ERR])"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestAvlRun_TruncatesOutput(t *testing.T) {
	root := scriptRepo(t, map[string]string{"loud.sh": "i=0\nwhile [ $i -lt 50 ]; do echo line-$i; i=$((i+1)); done\n"})
	cs, _ := setup(t, root, &config.Config{RawMaxOutput: 64})

	text := resultText(callTool(t, cs, "avl_run", map[string]any{"script": "loud.sh"}))
	if !strings.Contains(text, "output truncated") {
		t.Errorf("expected truncation note, got:\n%s", text)
	}
	if strings.Contains(text, "line-49") {
		t.Errorf("truncated output still contains the last line:\n%s", text)
	}
}

func TestAvlRun_LaunchError(t *testing.T) {
	root := scriptRepo(t, nil)
	cs, _ := setup(t, root, nil)

	res := callTool(t, cs, "avl_run", map[string]any{"script": "missing.sh"})
	if !res.IsError {
		t.Fatalf("expected tool error, got:\n%s", resultText(res))
	}
	if !strings.Contains(resultText(res), "script not found") {
		t.Errorf("unexpected error text: %s", resultText(res))
	}

	res = callTool(t, cs, "avl_run", map[string]any{"script": " "})
	if !res.IsError {
		t.Error("expected tool error for an empty script")
	}
}

// --- avl_inspect ---

func TestAvlInspect_AfterRun(t *testing.T) {
	root := scriptRepo(t, map[string]string{"bad.sh": "echo '[ERR] x'\nexit 2\n"})
	cs, _ := setup(t, root, nil)

	text := resultText(callTool(t, cs, "avl_run", map[string]any{"script": "bad.sh"}))
	m := runIDRE.FindStringSubmatch(text)
	if m == nil {
		t.Fatalf("no run ID in output:\n%s", text)
	}

	res := callTool(t, cs, "avl_inspect", map[string]any{"run_id": m[1]})
	got := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", got)
	}
	for _, want := range []string{"Status: FAIL", "Run: " + m[1], "Exit status: 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output, got:\n%s", want, got)
		}
	}
}

func TestAvlInspect_Errors(t *testing.T) {
	cs, _ := setup(t, t.TempDir(), nil)

	if res := callTool(t, cs, "avl_inspect", map[string]any{"run_id": ""}); !res.IsError {
		t.Error("expected error for empty run_id")
	}
	if res := callTool(t, cs, "avl_inspect", map[string]any{"run_id": "6f1c2a3e-0000-4000-8000-000000000000"}); !res.IsError {
		t.Error("expected error for unknown run")
	}
}

// --- avl_workspace ---

func TestAvlWorkspace(t *testing.T) {
	root := scriptRepo(t, map[string]string{
		"tests/a.sh": "true\n",
		"tests/b.sh": "true\n",
		"tools/c.sh": "true\n",
	})
	cs, _ := setup(t, root, &config.Config{Scripts: []string{"tests"}, RawTimeout: "1m"})

	res := callTool(t, cs, "avl_workspace", nil)
	text := resultText(res)
	if res.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{"Root: " + root, "Marker: [ERR]", "Timeout: 1m0s", "Scripts (2):", "tests/a.sh", "tests/b.sh"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got:\n%s", want, text)
		}
	}
	if strings.Contains(text, "tools/c.sh") {
		t.Errorf("script outside the configured directories listed:\n%s", text)
	}
}
