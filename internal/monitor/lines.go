package monitor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
)

// lineReader splits a stream into lines without a length limit. A line
// longer than limit is returned in pieces of at least limit bytes; more
// is true while the line continues in the next piece.
type lineReader struct {
	r     *bufio.Reader
	limit int
	buf   []byte
	err   error // sticky; returned once buffered data is drained
}

func newLineReader(r io.Reader, limit int) *lineReader {
	return &lineReader{
		r:     bufio.NewReaderSize(r, min(limit, initialLineBuffer)),
		limit: limit,
	}
}

// next returns the next line or piece of a line, without its terminator.
// The returned slice is only valid until the following call. At the end of
// the stream it returns io.EOF.
func (lr *lineReader) next() (piece []byte, more bool, err error) {
	if lr.err != nil {
		return nil, false, lr.err
	}
	lr.buf = lr.buf[:0]
	for {
		frag, err := lr.r.ReadSlice('\n')
		lr.buf = append(lr.buf, frag...)
		switch {
		case err == nil:
			return trimEOL(lr.buf), false, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(lr.buf) >= lr.limit {
				return lr.buf, true, nil
			}
		default:
			lr.err = err
			if len(lr.buf) == 0 {
				return nil, false, err
			}
			return trimEOL(lr.buf), false, nil
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}

// relay logs every line read from lr at info level and counts lines and
// marker lines into v. Pieces of an over-long line are logged as separate
// records but count as one line; a marker straddling two pieces is still
// found. It returns nil at the end of the stream.
func relay(ctx context.Context, lr *lineReader, logger *slog.Logger, marker string, v *Verdict) error {
	mk := []byte(marker)
	var (
		inLine    bool   // a long line continues
		hasMarker bool   // the current line contains the marker
		tail      []byte // last len(mk)-1 bytes of the line so far
	)
	endLine := func() {
		v.Lines++
		if hasMarker {
			v.MarkerSeen = true
			v.MarkerLines++
		}
		inLine, hasMarker, tail = false, false, tail[:0]
	}

	for {
		piece, more, err := lr.next()
		if err != nil {
			if inLine {
				endLine()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		// An over-long line ending exactly at a piece boundary leaves
		// only its terminator.
		if !inLine || more || len(piece) > 0 {
			logger.InfoContext(ctx, string(piece))
		}
		if !hasMarker && containsAcross(tail, piece, mk) {
			hasMarker = true
		}
		if more {
			inLine = true
			tail = keepTail(tail, piece, len(mk)-1)
			continue
		}
		endLine()
	}
}

// containsAcross reports whether marker occurs in piece or straddles the
// boundary between tail and piece.
func containsAcross(tail, piece, marker []byte) bool {
	if bytes.Contains(piece, marker) {
		return true
	}
	if len(tail) == 0 {
		return false
	}
	head := piece[:min(len(piece), len(marker)-1)]
	joined := append(tail[:len(tail):len(tail)], head...)
	return bytes.Contains(joined, marker)
}

// keepTail returns the last n bytes of tail followed by piece, reusing
// tail's storage.
func keepTail(tail, piece []byte, n int) []byte {
	if n <= 0 {
		return tail[:0]
	}
	if len(piece) >= n {
		return append(tail[:0], piece[len(piece)-n:]...)
	}
	tail = append(tail, piece...)
	if len(tail) > n {
		tail = append(tail[:0], tail[len(tail)-n:]...)
	}
	return tail
}
