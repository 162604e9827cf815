// Package domain contains core domain types for the Deduction backend.
package domain

import (
	"time"
)

// User represents a registered player and their progress.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CurrentStage int       `json:"current_stage"`
	JoinedAt     time.Time `json:"-"`
}

// HasCompleted reports whether the user has cleared every stage.
func (u *User) HasCompleted(maxStage int) bool {
	return u.CurrentStage > maxStage
}
