// Package stream implements the record-separator framing used by the
// model-run endpoint: a body of JSON objects delimited by ASCII 0x1E.
package stream

import "encoding/json"

// RecordSeparator delimits JSON records in a model-run response body.
// It is a non-printable control character and never appears inside a
// well-formed record.
const RecordSeparator byte = 0x1E

// Record kinds as they appear on the wire.
const (
	KindThinking = "thinking"
	KindText     = "text"
	KindError    = "error"
	// KindDelta is the legacy untagged shape; treated as text.
	KindDelta = "delta"
)

// Record is one increment of model output.
type Record struct {
	Type    string       `json:"type,omitempty"`
	Delta   string       `json:"delta,omitempty"`
	Content string       `json:"content,omitempty"`
	Error   *RecordError `json:"error,omitempty"`
}

// RecordError carries the message of an explicit error record.
type RecordError struct {
	Message string `json:"message"`
}

// Kind normalises the record type. Untagged records and the legacy
// "delta" type both resolve to text.
func (r Record) Kind() string {
	switch r.Type {
	case KindThinking, KindError:
		return r.Type
	default:
		return KindText
	}
}

// Fragment returns the record's text payload regardless of which wire
// field carried it.
func (r Record) Fragment() string {
	if r.Kind() == KindError {
		if r.Error != nil && r.Error.Message != "" {
			return r.Error.Message
		}
		if r.Delta != "" {
			return r.Delta
		}
		return r.Content
	}
	if r.Delta != "" {
		return r.Delta
	}
	return r.Content
}

func parseRecord(segment []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(segment, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
