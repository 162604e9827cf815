package domain

// Question is one puzzle in the bank. Answer is the canonical correct
// answer and never leaves the backend.
type Question struct {
	ID     string `json:"id"`
	Stage  int    `json:"-"`
	Prompt string `json:"prompt"`
	Answer string `json:"-"`
}

// Stat keys tracked as aggregate counters.
const (
	StatCorrectSubmissions = "correct_submissions"
	StatWrongSubmissions   = "wrong_submissions"
)
