package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
)

// ErrDecode wraps a segment that failed to parse as JSON. Malformed
// framing indicates a backend bug, so decoding stops at the bad segment
// rather than skipping it.
var ErrDecode = errors.New("malformed stream record")

const readChunkSize = 4 * 1024

// Decode turns a delimiter-framed body into a lazy, single-pass sequence
// of records. The sequence ends after the first error. The reader is
// closed on every exit path: normal EOF, decode or read error, and early
// termination by the consumer.
func Decode(r io.ReadCloser) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		defer r.Close()

		var buf bytes.Buffer
		chunk := make([]byte, readChunkSize)
		for {
			n, readErr := r.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
				for {
					idx := bytes.IndexByte(buf.Bytes(), RecordSeparator)
					if idx < 0 {
						break
					}
					segment := bytes.TrimSpace(buf.Next(idx + 1)[:idx])
					if len(segment) == 0 {
						continue
					}
					rec, err := parseRecord(segment)
					if err != nil {
						yield(Record{}, fmt.Errorf("%w: %v", ErrDecode, err))
						return
					}
					if !yield(rec, nil) {
						return
					}
				}
			}
			if readErr != nil {
				if !errors.Is(readErr, io.EOF) {
					yield(Record{}, fmt.Errorf("read stream: %w", readErr))
					return
				}
				break
			}
		}

		// A well-formed stream may omit the trailing delimiter.
		remainder := bytes.TrimSpace(buf.Bytes())
		if len(remainder) == 0 {
			return
		}
		rec, err := parseRecord(remainder)
		if err != nil {
			yield(Record{}, fmt.Errorf("%w: %v", ErrDecode, err))
			return
		}
		yield(rec, nil)
	}
}
