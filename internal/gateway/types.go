// Package gateway is the HTTP client for the Deduction backend: the
// four operations the session controller consumes.
package gateway

// Identity is the joined player as the backend reports it. Stage is
// 1-based; a stage past the final puzzle means the game is complete.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Stage       int    `json:"current_stage"`
}

// Puzzle is a single challenge. Immutable once received; replaced
// wholesale when the backend serves the next one.
type Puzzle struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// ModelOption describes one selectable model.
type ModelOption struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Thinking    bool   `json:"thinking"`
}

// Models is the /models payload.
type Models struct {
	Default string        `json:"default"`
	Options []ModelOption `json:"options"`
}

// JoinResult is the /join payload. Question is nil when the player has
// already cleared every stage.
type JoinResult struct {
	User     Identity `json:"user"`
	Question *Puzzle  `json:"question"`
}

// AttemptResult is the /attempt payload.
type AttemptResult struct {
	Correct  bool    `json:"correct"`
	Victory  bool    `json:"victory"`
	Question *Puzzle `json:"question"`
	Message  string  `json:"message,omitempty"`
}
