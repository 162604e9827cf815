// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/deduction-labs/deduction/internal/domain"
)

// Repository defines the interface for persisting users, the question
// bank, and aggregate stats. Lookups return (nil, nil) when the row
// does not exist.
type Repository interface {
	// CreateUser inserts a new user at stage 1 and returns it.
	CreateUser(ctx context.Context, name string) (*domain.User, error)

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// FindUserIDByName returns the ID of the oldest user (by joined_at)
	// with the given name, or "" when no such user exists.
	FindUserIDByName(ctx context.Context, name string) (string, error)

	// UpdateUserStage sets the user's current stage.
	UpdateUserStage(ctx context.Context, userID string, stage int) error

	// DeleteUser removes a user and their progress.
	DeleteUser(ctx context.Context, userID string) error

	// QuestionForStage returns the first question for the stage, or nil.
	QuestionForStage(ctx context.Context, stage int) (*domain.Question, error)

	// InsertQuestions bulk-inserts questions into the bank.
	InsertQuestions(ctx context.Context, questions []domain.Question) error

	// IncrementStat bumps an aggregate counter, creating it on first use.
	IncrementStat(ctx context.Context, key string, delta int64) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
