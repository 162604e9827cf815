// Package transcript maintains the ordered chat transcript for the
// active puzzle and folds streamed model records into it.
package transcript

import "github.com/google/uuid"

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleThinking  Role = "thinking"
)

// Entry is one element of the transcript. Entries are append-only from
// the outside; only the newest in-progress thinking and assistant
// entries are extended in place, and only until sealed.
type Entry struct {
	ID   string
	Role Role
	Text string
	// Provisional is true only while a thinking entry is still
	// receiving fragments.
	Provisional bool
}

// NewEntry builds an entry with a fresh ID.
func NewEntry(role Role, text string) Entry {
	return Entry{ID: uuid.New().String(), Role: role, Text: text}
}

// Messages converts the transcript into the role/content pairs sent to
// the model-run endpoint. Thinking entries are the model's own scratch
// output and are not replayed back to it.
func Messages(entries []Entry) []Message {
	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		switch e.Role {
		case RoleUser:
			msgs = append(msgs, Message{Role: "user", Content: e.Text})
		case RoleAssistant:
			msgs = append(msgs, Message{Role: "assistant", Content: e.Text})
		}
	}
	return msgs
}

// Message is a single role/content pair on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
