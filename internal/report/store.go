// Package report persists the outcome of harness runs so they can be
// looked up by run ID after the fact.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/deixis/avlrun/internal/script"
)

// Status is the overall outcome of a run.
type Status string

const (
	// Pass means the marker never appeared in the output.
	Pass Status = "pass"
	// Fail means the marker appeared at least once.
	Fail Status = "fail"
	// Error means the script could not be launched; there is no verdict.
	Error Status = "error"
)

// Store persists and retrieves run records.
type Store interface {
	Save(rec *RunRecord) error
	Load(runID string) (*RunRecord, error)
}

// RunRecord summarises one harness run. Output lines are not kept.
type RunRecord struct {
	ID          string    `json:"id"`
	Script      string    `json:"script"`
	Args        []string  `json:"args,omitempty"`
	Dir         string    `json:"dir,omitempty"`
	Status      Status    `json:"status"`
	Marker      string    `json:"marker"`
	MarkerSeen  bool      `json:"marker_seen"`
	ExitCode    int       `json:"exit_code"`
	Lines       int       `json:"lines"`
	MarkerLines int       `json:"marker_lines"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
}

// Summary renders the record for humans.
func (r *RunRecord) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(r.Status)))
	fmt.Fprintf(&b, "Run: %s\n", r.ID)
	fmt.Fprintf(&b, "Command: %s\n", script.CommandLine(append([]string{r.Script}, r.Args...)))
	if r.Dir != "" {
		fmt.Fprintf(&b, "Directory: %s\n", r.Dir)
	}
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started: %s (%s)\n", r.StartedAt.Format(time.RFC3339), time.Duration(r.DurationMs)*time.Millisecond)
	}

	if r.Status == Error {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
		return b.String()
	}

	fmt.Fprintf(&b, "Exit status: %d\n", r.ExitCode)
	fmt.Fprintf(&b, "Lines: %d (%d containing %s)\n", r.Lines, r.MarkerLines, r.Marker)
	switch {
	case r.MarkerSeen:
		fmt.Fprintf(&b, "Script reported %s (exit status: %d)\n", r.Marker, r.ExitCode)
	case r.ExitCode != 0:
		fmt.Fprintf(&b, "Script exited non-zero (%d) but no %s seen; treated as PASS\n", r.ExitCode, r.Marker)
	}
	return b.String()
}
