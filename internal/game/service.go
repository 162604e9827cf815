// Package game implements the server-side session rules: joining,
// resuming, answer checking, and stage progression.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deduction-labs/deduction/internal/answer"
	"github.com/deduction-labs/deduction/internal/domain"
	"github.com/deduction-labs/deduction/internal/store"
)

// DefaultMaxStage is the stage a player must clear to win.
const DefaultMaxStage = 3

// ErrUnknownUser is returned when an attempt references a user that
// does not exist.
var ErrUnknownUser = errors.New("unknown user")

// JoinResult is the outcome of a join: the user and their current
// question. Question is nil when every stage is already cleared.
type JoinResult struct {
	User     *domain.User
	Question *domain.Question
}

// AttemptResult is the outcome of an answer submission.
type AttemptResult struct {
	Correct  bool
	Victory  bool
	Question *domain.Question
	Message  string
}

// Service orchestrates game sessions against the repository.
type Service struct {
	repo     store.Repository
	rule     answer.Rule
	maxStage int
}

// NewService creates a game service. maxStage <= 0 selects the default.
func NewService(repo store.Repository, maxStage int) *Service {
	if maxStage <= 0 {
		maxStage = DefaultMaxStage
	}
	return &Service{
		repo:     repo,
		rule:     answer.DefaultRule,
		maxStage: maxStage,
	}
}

// MaxStage returns the final stage number.
func (s *Service) MaxStage() int {
	return s.maxStage
}

// Join registers a player. With startNew, any existing user with the
// same name is deleted first so the session starts fresh; otherwise an
// existing session is resumed, creating the user on first join.
func (s *Service) Join(ctx context.Context, name string, startNew bool) (*JoinResult, error) {
	name = strings.TrimSpace(name)

	existingID, err := s.repo.FindUserIDByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find user by name: %w", err)
	}

	var user *domain.User
	if startNew {
		if existingID != "" {
			if err := s.repo.DeleteUser(ctx, existingID); err != nil {
				return nil, fmt.Errorf("delete previous session: %w", err)
			}
		}
		user, err = s.repo.CreateUser(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
	} else {
		if existingID != "" {
			user, err = s.repo.GetUser(ctx, existingID)
			if err != nil {
				return nil, fmt.Errorf("get user: %w", err)
			}
		}
		if user == nil {
			user, err = s.repo.CreateUser(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("create user: %w", err)
			}
		}
	}

	result := &JoinResult{User: user}
	if user.CurrentStage <= s.maxStage {
		result.Question, err = s.repo.QuestionForStage(ctx, user.CurrentStage)
		if err != nil {
			return nil, fmt.Errorf("fetch question: %w", err)
		}
		if result.Question == nil {
			slog.Warn("no question found for active stage",
				"stage", user.CurrentStage,
				"user_id", user.ID,
			)
		}
	}
	return result, nil
}

// SubmitAnswer validates an answer for the user's current stage and
// advances them on success.
func (s *Service) SubmitAnswer(ctx context.Context, userID, submitted string) (*AttemptResult, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	if user.HasCompleted(s.maxStage) {
		return &AttemptResult{
			Correct: false,
			Victory: true,
			Message: "You have already completed all challenges!",
		}, nil
	}

	question, err := s.repo.QuestionForStage(ctx, user.CurrentStage)
	if err != nil {
		return nil, fmt.Errorf("fetch question: %w", err)
	}
	if question == nil {
		return &AttemptResult{
			Message: fmt.Sprintf("No question available for stage %d.", user.CurrentStage),
		}, nil
	}

	if !s.rule(submitted, question.Answer) {
		if err := s.repo.IncrementStat(ctx, domain.StatWrongSubmissions, 1); err != nil {
			slog.Warn("failed to bump wrong submissions", "error", err)
		}
		// The user stays on the same question.
		return &AttemptResult{
			Question: question,
			Message:  "That's not quite it. Try a different approach!",
		}, nil
	}

	if err := s.repo.IncrementStat(ctx, domain.StatCorrectSubmissions, 1); err != nil {
		slog.Warn("failed to bump correct submissions", "error", err)
	}

	nextStage := user.CurrentStage + 1
	if err := s.repo.UpdateUserStage(ctx, userID, nextStage); err != nil {
		return nil, fmt.Errorf("advance stage: %w", err)
	}

	if nextStage > s.maxStage {
		slog.Info("player won", "user_id", userID, "name", user.Name)
		return &AttemptResult{
			Correct: true,
			Victory: true,
			Message: "Congratulations! You've solved all puzzles!",
		}, nil
	}

	next, err := s.repo.QuestionForStage(ctx, nextStage)
	if err != nil {
		return nil, fmt.Errorf("fetch next question: %w", err)
	}
	result := &AttemptResult{
		Correct:  true,
		Question: next,
		Message:  "Correct! Moving to the next challenge.",
	}
	if next == nil {
		slog.Warn("no next question after correct answer", "stage", nextStage, "user_id", userID)
		result.Message = "Correct! However, an error occurred fetching the next question."
	}
	return result, nil
}
