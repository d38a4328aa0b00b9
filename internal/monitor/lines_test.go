package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
)

func relayString(t *testing.T, r io.Reader, limit int) ([]string, *Verdict, error) {
	t.Helper()
	rec := &recorder{}
	v := &Verdict{Marker: DefaultMarker}
	err := relay(context.Background(), newLineReader(r, limit), slog.New(rec), DefaultMarker, v)
	return rec.messages(slog.LevelInfo), v, err
}

func TestRelay_Lines(t *testing.T) {
	got, v, err := relayString(t, strings.NewReader("a\r\n\nb [ERR]\n10%\r50%\nlast"), maxLineSize)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "", "b [ERR]", "10%\r50%", "last"}, got); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
	if v.Lines != 5 || v.MarkerLines != 1 || !v.MarkerSeen {
		t.Errorf("verdict = %+v", v)
	}
}

func TestRelay_MarkerAcrossPieces(t *testing.T) {
	// The reader buffer is 16 bytes, so the first piece ends inside the marker.
	line := strings.Repeat("a", 14) + "[ERR]bbbb\n"
	got, v, err := relayString(t, strings.NewReader(line+"next\n"), 8)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	want := []string{strings.Repeat("a", 14) + "[E", "RR]bbbb", "next"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
	if v.Lines != 2 || v.MarkerLines != 1 || !v.MarkerSeen {
		t.Errorf("verdict = %+v, want 2 lines with 1 marker line", v)
	}
}

func TestRelay_LongLineEndsAtPieceBoundary(t *testing.T) {
	line := strings.Repeat("x", 16)
	got, v, err := relayString(t, strings.NewReader(line+"\nok\n"), 8)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if diff := cmp.Diff([]string{line, "ok"}, got); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
	if v.Lines != 2 || v.MarkerSeen {
		t.Errorf("verdict = %+v, want 2 lines, no marker", v)
	}
}

func TestRelay_LongLineAtEOF(t *testing.T) {
	got, v, err := relayString(t, strings.NewReader(strings.Repeat("y", 16)), 8)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if len(got) != 1 || v.Lines != 1 {
		t.Errorf("records = %q, verdict = %+v, want one line", got, v)
	}
}

func TestRelay_ReadError(t *testing.T) {
	errBroken := errors.New("broken pipe")
	r := io.MultiReader(strings.NewReader("one\n[ERR] two"), iotest.ErrReader(errBroken))

	got, v, err := relayString(t, r, maxLineSize)
	if !errors.Is(err, errBroken) {
		t.Fatalf("err = %v, want %v", err, errBroken)
	}
	if diff := cmp.Diff([]string{"one", "[ERR] two"}, got); diff != "" {
		t.Errorf("records before the error (-want +got):\n%s", diff)
	}
	if v.Lines != 2 || !v.MarkerSeen {
		t.Errorf("verdict = %+v, want the partial line counted", v)
	}
}

func TestKeepTail(t *testing.T) {
	tests := []struct {
		tail, piece string
		n           int
		want        string
	}{
		{"", "abcdef", 4, "cdef"},
		{"abcd", "ef", 4, "cdef"},
		{"ab", "c", 4, "abc"},
		{"abcd", "ef", 0, ""},
	}
	for _, tt := range tests {
		got := keepTail([]byte(tt.tail), []byte(tt.piece), tt.n)
		if string(got) != tt.want {
			t.Errorf("keepTail(%q, %q, %d) = %q, want %q", tt.tail, tt.piece, tt.n, got, tt.want)
		}
	}
}
