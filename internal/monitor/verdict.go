package monitor

import "fmt"

// Verdict is the outcome of one invocation. The marker decides the result;
// the exit code is diagnostic only.
type Verdict struct {
	Marker      string // marker the output was scanned for
	MarkerSeen  bool   // true if any line contained Marker
	ExitCode    int    // process exit status, -1 if killed by a signal
	Lines       int    // lines relayed
	MarkerLines int    // lines containing Marker
}

// Passed reports whether the invocation passed.
func (v *Verdict) Passed() bool {
	return !v.MarkerSeen
}

// Err returns a *MarkerFailure if the marker was seen, nil otherwise.
func (v *Verdict) Err() error {
	if !v.MarkerSeen {
		return nil
	}
	return &MarkerFailure{Marker: v.Marker, ExitCode: v.ExitCode}
}

// MarkerFailure is the test failure reported when the marker shows up in
// the output, whatever the exit status.
type MarkerFailure struct {
	Marker   string
	ExitCode int
}

func (e *MarkerFailure) Error() string {
	return fmt.Sprintf("script reported %s (exit status: %d)", e.Marker, e.ExitCode)
}
