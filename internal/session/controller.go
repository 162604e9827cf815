package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/deduction-labs/deduction/internal/gateway"
	"github.com/deduction-labs/deduction/internal/persist"
	"github.com/deduction-labs/deduction/internal/stream"
	"github.com/deduction-labs/deduction/internal/transcript"
)

// MaxNameLength is the longest display name accepted before a join call
// is made.
const MaxNameLength = 30

var (
	// ErrInvalidState rejects an operation called from a state that does
	// not allow it, rather than trusting the caller.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrTurnInFlight rejects a second concurrent chat turn for the same
	// transcript.
	ErrTurnInFlight = errors.New("a chat turn is already streaming")
	// ErrNoPuzzle rejects chat and attempt operations without a held puzzle.
	ErrNoPuzzle = errors.New("no active puzzle")
	// ErrUnknownModel rejects selecting a model the catalog does not list.
	ErrUnknownModel = errors.New("unknown model")
)

// ValidationError is a field-level input failure, reported inline to the
// originating form before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Gateway is the backend surface the controller orchestrates.
type Gateway interface {
	ListModels(ctx context.Context) (*gateway.Models, error)
	Join(ctx context.Context, name string, startNew bool) (*gateway.JoinResult, error)
	Attempt(ctx context.Context, userID, answer string) (*gateway.AttemptResult, error)
	ModelRun(ctx context.Context, model string, messages []transcript.Message, userID string) (io.ReadCloser, error)
}

// Controller owns one logical session: identity, active puzzle,
// transcript, and view state. All exported methods are safe for
// concurrent use; an attempt and a chat turn may overlap, two chat turns
// may not.
type Controller struct {
	gw     Gateway
	names  persist.NameStore
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	identity  *gateway.Identity
	puzzle    *gateway.Puzzle
	entries   []transcript.Entry
	models    *gateway.Models
	model     string
	startNew  bool
	streaming bool
	lastErr   error
	feedback  string
}

// NewController wires the controller to its external collaborators.
func NewController(gw Gateway, names persist.NameStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		gw:     gw,
		names:  names,
		logger: logger,
		state:  StateUninitialized,
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("session state change", "from", c.state.String(), "to", s.String())
	c.state = s
}

// Initialize loads model metadata and silently resumes a remembered
// session if one exists. A metadata failure is fatal to the session.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.mu.Unlock()

	models, err := c.gw.ListModels(ctx)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.setState(StateErrored)
		c.mu.Unlock()
		return fmt.Errorf("load model metadata: %w", err)
	}

	c.mu.Lock()
	c.models = models
	c.model = models.Default
	c.mu.Unlock()

	remembered, err := c.names.Get()
	if err != nil || remembered == "" {
		if err != nil {
			c.logger.Warn("failed to read remembered name", "error", err)
		}
		c.mu.Lock()
		c.setState(StateJoining)
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.setState(StateAutoRejoining)
	c.mu.Unlock()

	result, err := c.gw.Join(ctx, remembered, false)
	if err != nil {
		// The failure is not surfaced; the stale name is cleared and
		// the session falls back to a manual join.
		c.logger.Info("auto-rejoin failed, falling back to manual join", "name", remembered, "error", err)
		if removeErr := c.names.Remove(); removeErr != nil {
			c.logger.Warn("failed to clear remembered name", "error", removeErr)
		}
		c.mu.Lock()
		c.setState(StateJoining)
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.adoptJoin(result)
	c.mu.Unlock()
	c.logger.Info("session resumed", "name", remembered, "stage", result.User.Stage)
	return nil
}

// Join registers the player under the given display name. A validation
// failure is returned as *ValidationError without a network call; a
// transport failure leaves the controller in Joining.
func (c *Controller) Join(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "name", Reason: "display name is required"}
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("display name must be at most %d characters", MaxNameLength)}
	}

	c.mu.Lock()
	if c.state != StateJoining {
		c.mu.Unlock()
		return ErrInvalidState
	}
	startNew := c.startNew
	c.mu.Unlock()

	result, err := c.gw.Join(ctx, name, startNew)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	if err := c.names.Set(name); err != nil {
		c.logger.Warn("failed to remember display name", "error", err)
	}

	c.mu.Lock()
	c.startNew = false
	c.adoptJoin(result)
	c.mu.Unlock()
	c.logger.Info("joined", "name", name, "stage", result.User.Stage, "start_new", startNew)
	return nil
}

// adoptJoin installs the joined identity and puzzle. Caller holds mu.
func (c *Controller) adoptJoin(result *gateway.JoinResult) {
	user := result.User
	c.identity = &user
	c.lastErr = nil
	c.feedback = ""
	c.entries = nil
	if result.Question == nil {
		// All stages already cleared.
		c.puzzle = nil
		c.setState(StateVictory)
		return
	}
	q := *result.Question
	c.puzzle = &q
	c.setState(StatePlaying)
}

// SubmitAttempt submits an answer for the current puzzle. The returned
// result reports correctness and feedback; a transport failure reverts
// to the pre-call state.
func (c *Controller) SubmitAttempt(ctx context.Context, answer string) (*gateway.AttemptResult, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, &ValidationError{Field: "answer", Reason: "answer is required"}
	}

	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	if c.puzzle == nil || c.identity == nil {
		c.mu.Unlock()
		return nil, ErrNoPuzzle
	}
	userID := c.identity.ID
	c.setState(StateSubmitting)
	c.mu.Unlock()

	result, err := c.gw.Attempt(ctx, userID, answer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil || c.puzzle == nil {
		// A reset ran while the attempt was in flight; the session the
		// result belongs to no longer exists, so it is discarded.
		c.logger.Info("attempt result discarded after session reset")
		return nil, ErrInvalidState
	}
	if err != nil {
		c.lastErr = err
		c.setState(StatePlaying)
		return nil, err
	}

	c.feedback = result.Message
	switch {
	case result.Correct && result.Victory:
		c.identity.Stage++
		c.puzzle = nil
		c.entries = nil
		c.setState(StateVictory)
		c.logger.Info("victory", "stage", c.identity.Stage)

	case result.Correct:
		c.identity.Stage++
		if result.Question != nil {
			q := *result.Question
			c.puzzle = &q
		}
		c.entries = nil
		c.setState(StatePlaying)
		c.logger.Info("advanced to next stage", "stage", c.identity.Stage)

	default:
		// The backend may serve a different puzzle on an incorrect
		// retry; accept it without second-guessing. The transcript
		// follows the puzzle identity.
		if result.Question != nil && result.Question.ID != c.puzzle.ID {
			q := *result.Question
			c.puzzle = &q
			c.entries = nil
		}
		c.setState(StatePlaying)
	}
	return result, nil
}

// RunTurn sends a chat message and streams the model's reply into the
// transcript. onChange, if non-nil, observes every transcript mutation.
// Stream failures end the turn as a terminal transcript entry and never
// crash the controller.
func (c *Controller) RunTurn(ctx context.Context, message string, onChange func([]transcript.Entry)) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return &ValidationError{Field: "message", Reason: "message is required"}
	}

	c.mu.Lock()
	if c.puzzle == nil || c.identity == nil {
		c.mu.Unlock()
		return ErrNoPuzzle
	}
	if c.streaming {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.streaming = true
	puzzleID := c.puzzle.ID
	userID := c.identity.ID
	model := c.model
	c.entries = append(c.entries, transcript.NewEntry(transcript.RoleUser, message))
	entries := append([]transcript.Entry(nil), c.entries...)
	messages := transcript.Messages(entries)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.streaming = false
		c.mu.Unlock()
	}()

	publish := func(updated []transcript.Entry) {
		c.mu.Lock()
		// The transcript belongs to the puzzle that started the turn.
		// If an overlapping correct attempt replaced the puzzle, the
		// turn's output is discarded, not merged.
		if c.puzzle != nil && c.puzzle.ID == puzzleID {
			c.entries = append([]transcript.Entry(nil), updated...)
		}
		c.mu.Unlock()
		if onChange != nil {
			onChange(updated)
		}
	}
	publish(entries)

	body, err := c.gw.ModelRun(ctx, model, messages, userID)
	if err != nil {
		// Failure before the stream opened: recovered as a synthetic
		// error record so the transcript still reports the turn's end.
		var a transcript.Assembler
		entries, _ = a.Apply(entries, stream.Record{
			Type:  stream.KindError,
			Error: &stream.RecordError{Message: err.Error()},
		})
		publish(entries)
		c.logger.Warn("model run failed to start", "error", err)
		return nil
	}

	transcript.Consume(stream.Decode(body), entries, publish)
	return nil
}

// PlayAgain resets the session for a fresh game: identity, puzzle, and
// transcript are cleared, the remembered name is forgotten, and the
// next join starts new.
func (c *Controller) PlayAgain() error {
	if err := c.names.Remove(); err != nil {
		c.logger.Warn("failed to clear remembered name", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	c.puzzle = nil
	c.entries = nil
	c.feedback = ""
	c.lastErr = nil
	c.startNew = true
	c.setState(StateJoining)
	return nil
}

// SetModel selects a model from the catalog.
func (c *Controller) SetModel(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models == nil {
		return ErrInvalidState
	}
	for _, opt := range c.models.Options {
		if opt.Name == name {
			c.model = name
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownModel, name)
}

// State returns the current view state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns a copy of the held identity, or nil before a join.
func (c *Controller) Identity() *gateway.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil
	}
	id := *c.identity
	return &id
}

// Puzzle returns a copy of the held puzzle, or nil.
func (c *Controller) Puzzle() *gateway.Puzzle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.puzzle == nil {
		return nil
	}
	p := *c.puzzle
	return &p
}

// Transcript returns a snapshot of the current transcript.
func (c *Controller) Transcript() []transcript.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transcript.Entry(nil), c.entries...)
}

// Models returns the model catalog loaded at initialization.
func (c *Controller) Models() *gateway.Models {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.models
}

// Model returns the currently selected model name.
func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Feedback returns the message from the most recent attempt.
func (c *Controller) Feedback() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedback
}

// LastError returns the most recent user-visible failure, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
