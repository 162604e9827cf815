package transcript

import (
	"iter"

	"github.com/deduction-labs/deduction/internal/stream"
)

// Assembler folds streamed records into transcript mutations for one
// chat turn. The fold is pure state-in, state-out so it can be tested
// without any rendering layer; a fresh Assembler is used per turn.
type Assembler struct {
	thinkingOpen  bool // a provisional thinking entry is still receiving fragments
	assistantOpen bool // an assistant entry has been started this turn
	assistantAt   int  // index of the open assistant entry; valid while assistantOpen
}

// Apply folds one record into the transcript and returns the updated
// entries plus done=true once an error record terminates the turn.
// Records arriving after done would be discarded by the caller.
func (a *Assembler) Apply(entries []Entry, rec stream.Record) ([]Entry, bool) {
	switch rec.Kind() {
	case stream.KindThinking:
		if a.thinkingOpen {
			i := a.openThinkingIndex(entries)
			entries[i].Text += rec.Fragment()
			return entries, false
		}
		e := NewEntry(RoleThinking, rec.Fragment())
		e.Provisional = true
		a.thinkingOpen = true
		return append(entries, e), false

	case stream.KindError:
		entries = a.sealThinking(entries)
		entries = append(entries, NewEntry(RoleAssistant, rec.Fragment()))
		return entries, true

	default: // text, including the legacy delta shape
		entries = a.sealThinking(entries)
		// Thinking and text may interleave, so the open assistant
		// entry is not necessarily last; it is addressed by index.
		if a.assistantOpen {
			entries[a.assistantAt].Text += rec.Fragment()
			return entries, false
		}
		a.assistantOpen = true
		a.assistantAt = len(entries)
		return append(entries, NewEntry(RoleAssistant, rec.Fragment())), false
	}
}

// Finish seals a thinking entry that never saw a text record. Called at
// end of stream when no error record arrived.
func (a *Assembler) Finish(entries []Entry) []Entry {
	return a.sealThinking(entries)
}

func (a *Assembler) sealThinking(entries []Entry) []Entry {
	if !a.thinkingOpen {
		return entries
	}
	i := a.openThinkingIndex(entries)
	entries[i].Provisional = false
	a.thinkingOpen = false
	return entries
}

func (a *Assembler) openThinkingIndex(entries []Entry) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == RoleThinking && entries[i].Provisional {
			return i
		}
	}
	return -1
}

// Consume drives a whole turn: it folds every record from seq in arrival
// order, converts a decode error into a terminal assistant entry, and
// calls onChange after each mutation so a consumer can repaint. It
// returns the final transcript.
func Consume(seq iter.Seq2[stream.Record, error], entries []Entry, onChange func([]Entry)) []Entry {
	notify := func() {
		if onChange != nil {
			onChange(entries)
		}
	}

	var a Assembler
	for rec, err := range seq {
		if err != nil {
			entries, _ = a.Apply(entries, stream.Record{
				Type:  stream.KindError,
				Error: &stream.RecordError{Message: err.Error()},
			})
			notify()
			return entries
		}
		var done bool
		entries, done = a.Apply(entries, rec)
		notify()
		if done {
			// Remaining records, if any, are discarded; breaking
			// the range stops the producer and releases its body.
			return entries
		}
	}

	entries = a.Finish(entries)
	notify()
	return entries
}
