// Package sse reassembles server-sent event frames from an arbitrarily chunked byte stream.
//
// A frame is a block of text terminated by a blank line. Only frames that start with the
// data marker are surfaced; comments, named-event lines and keep-alives are dropped here.
package sse

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DataMarker prefixes every frame that carries a payload.
	DataMarker = "data:"

	frameSeparator = "\n\n"
	readChunkSize  = 4096
)

// Frame is one complete, blank-line terminated block with the separator stripped.
type Frame string

// Payload returns the frame text after the data marker, trimmed of surrounding whitespace.
func (f Frame) Payload() string {
	return strings.TrimSpace(strings.TrimPrefix(string(f), DataMarker))
}

// Decoder keeps a rolling buffer across Push calls and never emits a partial frame.
// It is not safe for concurrent use; a stream has exactly one reader.
type Decoder struct {
	buf     string
	dropped int
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Push appends a fragment and returns every frame completed by it, in order.
func (d *Decoder) Push(fragment []byte) []Frame {
	if d == nil || len(fragment) == 0 {
		return nil
	}
	d.buf += string(fragment)
	// CRLF pairs may straddle two fragments, so normalise the whole pending buffer.
	if strings.Contains(d.buf, "\r\n") {
		d.buf = strings.ReplaceAll(d.buf, "\r\n", "\n")
	}

	var out []Frame
	for {
		idx := strings.Index(d.buf, frameSeparator)
		if idx < 0 {
			break
		}
		raw := strings.TrimLeft(d.buf[:idx], "\n")
		d.buf = d.buf[idx+len(frameSeparator):]
		if !strings.HasPrefix(raw, DataMarker) {
			if strings.TrimSpace(raw) != "" {
				d.dropped++
			}
			continue
		}
		out = append(out, Frame(raw))
	}
	return out
}

// Finish discards whatever is left in the buffer and returns its size in bytes.
// A leftover can never be a complete frame, so it is not emitted.
func (d *Decoder) Finish() int {
	if d == nil {
		return 0
	}
	n := len(d.buf)
	d.buf = ""
	return n
}

// Pending reports how many bytes are buffered waiting for a frame separator.
func (d *Decoder) Pending() int {
	if d == nil {
		return 0
	}
	return len(d.buf)
}

// Dropped reports how many non-empty frames were discarded for lacking the data marker.
func (d *Decoder) Dropped() int {
	if d == nil {
		return 0
	}
	return d.dropped
}

// ReadFrames feeds r into d and calls fn for each frame until fn returns false, r hits EOF
// or a read fails. It returns nil on EOF and on an early stop; a read error is returned
// wrapped. Buffered leftovers are not flushed; call Finish afterwards.
func ReadFrames(ctx context.Context, r io.Reader, d *Decoder, fn func(Frame) bool) error {
	if r == nil {
		return errors.New("sse: nil reader")
	}
	if d == nil {
		return errors.New("sse: nil decoder")
	}
	buf := make([]byte, readChunkSize)
	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "sse: read aborted")
			}
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, f := range d.Push(buf[:n]) {
				if !fn(f) {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "sse: read failed")
		}
	}
}
