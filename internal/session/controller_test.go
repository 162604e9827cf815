package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/deduction-labs/deduction/internal/gateway"
	"github.com/deduction-labs/deduction/internal/persist"
	"github.com/deduction-labs/deduction/internal/stream"
	"github.com/deduction-labs/deduction/internal/transcript"
)

const sep = string(rune(stream.RecordSeparator))

// fakeGateway scripts backend responses for controller tests.
type fakeGateway struct {
	modelsErr  error
	joinResult *gateway.JoinResult
	joinErr    error
	joinCalls  []joinCall
	attempt    *gateway.AttemptResult
	attemptErr error
	streamBody string
	runErr     error
}

type joinCall struct {
	name     string
	startNew bool
}

func (f *fakeGateway) ListModels(context.Context) (*gateway.Models, error) {
	if f.modelsErr != nil {
		return nil, f.modelsErr
	}
	return &gateway.Models{
		Default: "haiku",
		Options: []gateway.ModelOption{
			{Name: "haiku", DisplayName: "Haiku", Thinking: false},
			{Name: "sonnet", DisplayName: "Sonnet", Thinking: true},
		},
	}, nil
}

func (f *fakeGateway) Join(_ context.Context, name string, startNew bool) (*gateway.JoinResult, error) {
	f.joinCalls = append(f.joinCalls, joinCall{name: name, startNew: startNew})
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	return f.joinResult, nil
}

func (f *fakeGateway) Attempt(context.Context, string, string) (*gateway.AttemptResult, error) {
	if f.attemptErr != nil {
		return nil, f.attemptErr
	}
	return f.attempt, nil
}

func (f *fakeGateway) ModelRun(context.Context, string, []transcript.Message, string) (io.ReadCloser, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	return io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func joined(stage int, questionID string) *gateway.JoinResult {
	r := &gateway.JoinResult{
		User: gateway.Identity{ID: "u1", DisplayName: "Ada", Stage: stage},
	}
	if questionID != "" {
		r.Question = &gateway.Puzzle{ID: questionID, Prompt: "?"}
	}
	return r
}

func playing(t *testing.T, gw *fakeGateway) *Controller {
	t.Helper()
	c := NewController(gw, &persist.MemStore{}, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Join(context.Background(), "Ada"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	return c
}

func TestInitializeFatalWhenModelsUnavailable(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{modelsErr: errors.New("connection refused")}
	c := NewController(gw, &persist.MemStore{}, nil)

	if err := c.Initialize(context.Background()); err == nil {
		t.Fatal("expected initialization error")
	}
	if got := c.State(); got != StateErrored {
		t.Fatalf("state = %v, want errored", got)
	}
}

func TestInitializeWithoutRememberedNameLandsInJoining(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{joinResult: joined(1, "q1")}
	c := NewController(gw, &persist.MemStore{}, nil)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := c.State(); got != StateJoining {
		t.Fatalf("state = %v, want joining", got)
	}
	if len(gw.joinCalls) != 0 {
		t.Fatalf("join called %d times without a remembered name", len(gw.joinCalls))
	}
	if c.Model() != "haiku" {
		t.Errorf("model = %q, want default haiku", c.Model())
	}
}

func TestAutoRejoinAdoptsRememberedSession(t *testing.T) {
	t.Parallel()

	names := &persist.MemStore{}
	if err := names.Set("Ada"); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{joinResult: joined(2, "q2")}
	c := NewController(gw, names, nil)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := c.State(); got != StatePlaying {
		t.Fatalf("state = %v, want playing", got)
	}
	if len(gw.joinCalls) != 1 || gw.joinCalls[0].startNew {
		t.Fatalf("join calls = %+v, want one resume call with start_new=false", gw.joinCalls)
	}
	if id := c.Identity(); id == nil || id.Stage != 2 {
		t.Fatalf("identity = %+v, want stage 2", id)
	}
	if p := c.Puzzle(); p == nil || p.ID != "q2" {
		t.Fatalf("puzzle = %+v, want q2", p)
	}
}

func TestAutoRejoinFailureIsSilentAndClearsName(t *testing.T) {
	t.Parallel()

	names := &persist.MemStore{}
	if err := names.Set("Ada"); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{joinErr: errors.New("boom"), joinResult: joined(1, "q1")}
	c := NewController(gw, names, nil)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("auto-rejoin failure must not surface: %v", err)
	}
	if got := c.State(); got != StateJoining {
		t.Fatalf("state = %v, want joining", got)
	}
	if c.LastError() != nil {
		t.Errorf("lastErr = %v, want nil (silent fallback)", c.LastError())
	}
	if name, _ := names.Get(); name != "" {
		t.Errorf("remembered name = %q, want cleared", name)
	}
}

func TestAutoRejoinWithNoQuestionMeansVictory(t *testing.T) {
	t.Parallel()

	names := &persist.MemStore{}
	if err := names.Set("Ada"); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{joinResult: joined(4, "")}
	c := NewController(gw, names, nil)

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := c.State(); got != StateVictory {
		t.Fatalf("state = %v, want victory", got)
	}
	if c.Puzzle() != nil {
		t.Error("puzzle must be nil once victorious")
	}
}

func TestJoinValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"too long", strings.Repeat("a", MaxNameLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gw := &fakeGateway{joinResult: joined(1, "q1")}
			c := NewController(gw, &persist.MemStore{}, nil)
			if err := c.Initialize(context.Background()); err != nil {
				t.Fatal(err)
			}

			err := c.Join(context.Background(), tt.input)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if vErr.Field != "name" {
				t.Errorf("field = %q, want name", vErr.Field)
			}
			if len(gw.joinCalls) != 0 {
				t.Error("validation failure must not reach the network")
			}
			if got := c.State(); got != StateJoining {
				t.Errorf("state = %v, want joining", got)
			}
		})
	}
}

func TestJoinSuccessPersistsNameAndStartsPlaying(t *testing.T) {
	t.Parallel()

	names := &persist.MemStore{}
	gw := &fakeGateway{joinResult: joined(1, "q1")}
	c := NewController(gw, names, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Join(context.Background(), "Ada"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if got := c.State(); got != StatePlaying {
		t.Fatalf("state = %v, want playing", got)
	}
	if name, _ := names.Get(); name != "Ada" {
		t.Errorf("remembered name = %q, want Ada", name)
	}
	if len(c.Transcript()) != 0 {
		t.Error("transcript must start empty")
	}
	if p := c.Puzzle(); p == nil || p.ID != "q1" {
		t.Fatalf("puzzle = %+v, want q1", p)
	}
}

func TestJoinTransportFailureStaysInJoining(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{joinErr: errors.New("500")}
	c := NewController(gw, &persist.MemStore{}, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Join(context.Background(), "Ada"); err == nil {
		t.Fatal("expected join error")
	}
	if got := c.State(); got != StateJoining {
		t.Fatalf("state = %v, want joining", got)
	}
}

func TestAttemptCorrectAdvancesStageAndClearsTranscript(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		attempt: &gateway.AttemptResult{
			Correct:  true,
			Question: &gateway.Puzzle{ID: "q2", Prompt: "next"},
		},
		streamBody: `{"type":"text","delta":"hello"}` + sep,
	}
	c := playing(t, gw)

	// Populate the transcript so clearing is observable.
	if err := c.RunTurn(context.Background(), "hi", nil); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if len(c.Transcript()) == 0 {
		t.Fatal("expected transcript entries before the attempt")
	}

	result, err := c.SubmitAttempt(context.Background(), "42")
	if err != nil {
		t.Fatalf("SubmitAttempt failed: %v", err)
	}
	if !result.Correct || result.Victory {
		t.Fatalf("result = %+v, want correct non-victory", result)
	}
	if id := c.Identity(); id.Stage != 2 {
		t.Errorf("stage = %d, want 2", id.Stage)
	}
	if p := c.Puzzle(); p == nil || p.ID != "q2" {
		t.Errorf("puzzle = %+v, want q2", p)
	}
	if len(c.Transcript()) != 0 {
		t.Error("transcript must be cleared when the puzzle changes")
	}
	if got := c.State(); got != StatePlaying {
		t.Errorf("state = %v, want playing", got)
	}
}

func TestAttemptIncorrectKeepsStage(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		attempt: &gateway.AttemptResult{
			Correct:  false,
			Question: &gateway.Puzzle{ID: "q1", Prompt: "?"},
			Message:  "not quite",
		},
	}
	c := playing(t, gw)

	result, err := c.SubmitAttempt(context.Background(), "wrong")
	if err != nil {
		t.Fatalf("SubmitAttempt failed: %v", err)
	}
	if result.Correct {
		t.Fatal("expected incorrect result")
	}
	if id := c.Identity(); id.Stage != 1 {
		t.Errorf("stage = %d, want unchanged 1", id.Stage)
	}
	if c.Feedback() != "not quite" {
		t.Errorf("feedback = %q, want the server message", c.Feedback())
	}
	if got := c.State(); got != StatePlaying {
		t.Errorf("state = %v, want playing", got)
	}
}

func TestAttemptIncorrectAdoptsRotatedPuzzle(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		attempt: &gateway.AttemptResult{
			Correct:  false,
			Question: &gateway.Puzzle{ID: "q1-alt", Prompt: "rotated"},
		},
	}
	c := playing(t, gw)

	if _, err := c.SubmitAttempt(context.Background(), "wrong"); err != nil {
		t.Fatalf("SubmitAttempt failed: %v", err)
	}
	if p := c.Puzzle(); p == nil || p.ID != "q1-alt" {
		t.Fatalf("puzzle = %+v, want the rotated q1-alt accepted as-is", p)
	}
	if id := c.Identity(); id.Stage != 1 {
		t.Errorf("stage = %d, want unchanged 1", id.Stage)
	}
}

func TestAttemptVictoryClearsPuzzle(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(3, "q3"),
		attempt:    &gateway.AttemptResult{Correct: true, Victory: true},
	}
	c := playing(t, gw)

	result, err := c.SubmitAttempt(context.Background(), "final")
	if err != nil {
		t.Fatalf("SubmitAttempt failed: %v", err)
	}
	if !result.Victory {
		t.Fatal("expected victory")
	}
	if got := c.State(); got != StateVictory {
		t.Fatalf("state = %v, want victory", got)
	}
	if c.Puzzle() != nil {
		t.Error("puzzle must be nil after victory")
	}
	if id := c.Identity(); id.Stage != 4 {
		t.Errorf("stage = %d, want 4 (past the final stage)", id.Stage)
	}
}

func TestAttemptTransportFailureRevertsState(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		attemptErr: errors.New("timeout"),
	}
	c := playing(t, gw)

	if _, err := c.SubmitAttempt(context.Background(), "42"); err == nil {
		t.Fatal("expected attempt error")
	}
	if got := c.State(); got != StatePlaying {
		t.Fatalf("state = %v, want reverted to playing", got)
	}
	if id := c.Identity(); id.Stage != 1 {
		t.Errorf("stage = %d, want unchanged 1", id.Stage)
	}
}

func TestAttemptRejectedOutsidePlaying(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{joinResult: joined(1, "q1")}
	c := NewController(gw, &persist.MemStore{}, nil)

	if _, err := c.SubmitAttempt(context.Background(), "42"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestRunTurnAssemblesTranscript(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		streamBody: `{"type":"thinking","delta":"hm"}` + sep +
			`{"type":"text","delta":"It is "}` + sep +
			`{"type":"text","delta":"42."}` + sep,
	}
	c := playing(t, gw)

	var updates int
	if err := c.RunTurn(context.Background(), "what is the answer?", func([]transcript.Entry) { updates++ }); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	entries := c.Transcript()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want user+thinking+assistant", len(entries))
	}
	if entries[0].Role != transcript.RoleUser || entries[0].Text != "what is the answer?" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Role != transcript.RoleThinking || entries[1].Provisional {
		t.Errorf("thinking entry = %+v, want sealed thinking", entries[1])
	}
	if entries[2].Text != "It is 42." {
		t.Errorf("assistant text = %q", entries[2].Text)
	}
	if updates == 0 {
		t.Error("onChange never observed a mutation")
	}
}

func TestRunTurnRejectsConcurrentTurn(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{joinResult: joined(1, "q1")}
	c := playing(t, gw)

	started := make(chan struct{})
	release := make(chan struct{})
	gw.runErr = nil
	gw.streamBody = `{"type":"text","delta":"x"}` + sep

	// Block the first turn inside the gateway call.
	blockingGw := &blockingGateway{fakeGateway: gw, started: started, release: release}
	c.gw = blockingGw

	done := make(chan error, 1)
	go func() { done <- c.RunTurn(context.Background(), "first", nil) }()
	<-started

	if err := c.RunTurn(context.Background(), "second", nil); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("got %v, want ErrTurnInFlight", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// After the first turn drains, a new turn is allowed again.
	if err := c.RunTurn(context.Background(), "third", nil); err != nil {
		t.Fatalf("turn after drain failed: %v", err)
	}
}

type blockingAttemptGateway struct {
	*fakeGateway
	started chan struct{}
	release chan struct{}
}

func (b *blockingAttemptGateway) Attempt(ctx context.Context, userID, answer string) (*gateway.AttemptResult, error) {
	close(b.started)
	<-b.release
	return b.fakeGateway.Attempt(ctx, userID, answer)
}

func TestSubmitAttemptDiscardedAfterPlayAgain(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		attempt: &gateway.AttemptResult{
			Correct:  true,
			Question: &gateway.Puzzle{ID: "q2", Prompt: "next"},
		},
	}
	c := playing(t, gw)

	started := make(chan struct{})
	release := make(chan struct{})
	c.gw = &blockingAttemptGateway{fakeGateway: gw, started: started, release: release}

	type attemptOutcome struct {
		result *gateway.AttemptResult
		err    error
	}
	done := make(chan attemptOutcome, 1)
	go func() {
		result, err := c.SubmitAttempt(context.Background(), "echo")
		done <- attemptOutcome{result, err}
	}()
	<-started

	// The player resets the session while the attempt is in flight; the
	// late result belongs to a session that no longer exists.
	if err := c.PlayAgain(); err != nil {
		t.Fatalf("PlayAgain failed: %v", err)
	}
	close(release)

	outcome := <-done
	if !errors.Is(outcome.err, ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", outcome.err)
	}
	if outcome.result != nil {
		t.Errorf("stale result = %+v, want nil", outcome.result)
	}
	if got := c.State(); got != StateJoining {
		t.Errorf("state = %s, want joining", got)
	}
	if c.Identity() != nil || c.Puzzle() != nil {
		t.Error("reset session must hold no identity or puzzle")
	}
}

type blockingGateway struct {
	*fakeGateway
	started chan struct{}
	release chan struct{}
	once    bool
}

func (b *blockingGateway) ModelRun(ctx context.Context, model string, msgs []transcript.Message, userID string) (io.ReadCloser, error) {
	if !b.once {
		b.once = true
		close(b.started)
		<-b.release
	}
	return b.fakeGateway.ModelRun(ctx, model, msgs, userID)
}

func TestRunTurnTransportFailureBecomesTerminalEntry(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		runErr:     errors.New("connection reset"),
	}
	c := playing(t, gw)

	if err := c.RunTurn(context.Background(), "hello", nil); err != nil {
		t.Fatalf("RunTurn must recover transport failures, got %v", err)
	}
	entries := c.Transcript()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want user + terminal assistant", len(entries))
	}
	if !strings.Contains(entries[1].Text, "connection reset") {
		t.Errorf("terminal entry = %q, want the failure message", entries[1].Text)
	}
	// The controller survives: another turn may start.
	gw.runErr = nil
	gw.streamBody = `{"type":"text","delta":"ok"}` + sep
	if err := c.RunTurn(context.Background(), "again", nil); err != nil {
		t.Fatalf("turn after failure rejected: %v", err)
	}
}

func TestRunTurnDecodeErrorEndsTurnOnly(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(1, "q1"),
		streamBody: `{"type":"text","delta":"part"}` + sep + `{broken` + sep,
	}
	c := playing(t, gw)

	if err := c.RunTurn(context.Background(), "hello", nil); err != nil {
		t.Fatalf("RunTurn must recover decode errors, got %v", err)
	}
	entries := c.Transcript()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want user + partial + terminal", len(entries))
	}
	if entries[1].Text != "part" {
		t.Errorf("partial assistant text = %q", entries[1].Text)
	}
	if got := c.State(); got != StatePlaying {
		t.Errorf("state = %v, decode errors must not change session state", got)
	}
}

func TestRunTurnRequiresPuzzle(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{
		joinResult: joined(3, "q3"),
		attempt:    &gateway.AttemptResult{Correct: true, Victory: true},
	}
	c := playing(t, gw)
	if _, err := c.SubmitAttempt(context.Background(), "final"); err != nil {
		t.Fatal(err)
	}

	if err := c.RunTurn(context.Background(), "hi", nil); !errors.Is(err, ErrNoPuzzle) {
		t.Fatalf("got %v, want ErrNoPuzzle", err)
	}
}

func TestPlayAgainResetsEverything(t *testing.T) {
	t.Parallel()

	names := &persist.MemStore{}
	if err := names.Set("Ada"); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{joinResult: joined(1, "q1")}
	c := NewController(gw, names, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.PlayAgain(); err != nil {
		t.Fatalf("PlayAgain failed: %v", err)
	}
	if got := c.State(); got != StateJoining {
		t.Fatalf("state = %v, want joining", got)
	}
	if c.Identity() != nil || c.Puzzle() != nil {
		t.Error("identity and puzzle must be cleared")
	}
	if name, _ := names.Get(); name != "" {
		t.Errorf("remembered name = %q, want cleared", name)
	}

	// The next join starts a fresh game.
	if err := c.Join(context.Background(), "Ada"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	last := gw.joinCalls[len(gw.joinCalls)-1]
	if !last.startNew {
		t.Error("join after play-again must set start_new")
	}
}

func TestSetModelValidatesAgainstCatalog(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{joinResult: joined(1, "q1")}
	c := NewController(gw, &persist.MemStore{}, nil)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.SetModel("sonnet"); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}
	if c.Model() != "sonnet" {
		t.Errorf("model = %q, want sonnet", c.Model())
	}
	if err := c.SetModel("nope"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("got %v, want ErrUnknownModel", err)
	}
}
