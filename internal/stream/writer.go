package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Writer frames records onto an HTTP response body, flushing after each
// record so clients see increments as they are produced.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps a response writer. Flushing is best-effort: if w does
// not implement http.Flusher the records are still framed correctly.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Write encodes one record followed by the record separator.
func (sw *Writer) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal stream record: %w", err)
	}
	if _, err := sw.w.Write(append(data, RecordSeparator)); err != nil {
		return fmt.Errorf("write stream record: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// WriteError frames a terminal error record.
func (sw *Writer) WriteError(message string) error {
	return sw.Write(Record{Type: KindError, Error: &RecordError{Message: message}})
}
