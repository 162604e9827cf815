package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/deduction-labs/deduction/internal/gateway"
	"github.com/deduction-labs/deduction/internal/persist"
	"github.com/deduction-labs/deduction/internal/session"
	"github.com/deduction-labs/deduction/internal/transcript"
)

// play runs the interactive game loop on stdin/stdout.
func play(ctx context.Context, cfg *Config) error {
	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	stateDir := cfg.stateDir
	if stateDir == "" {
		var err error
		stateDir, err = persist.DefaultDir()
		if err != nil {
			return fmt.Errorf("resolve state directory: %w", err)
		}
	}

	gwCfg := gateway.DefaultConfig(cfg.serverURL)
	gwCfg.Timeout = cfg.timeout
	ctrl := session.NewController(gateway.NewClient(gwCfg), persist.NewFileStore(stateDir), logger)

	r := &repl{
		ctrl: ctrl,
		in:   bufio.NewScanner(os.Stdin),
		out:  os.Stdout,
	}
	return r.run(ctx, cfg.model)
}

type repl struct {
	ctrl *session.Controller
	in   *bufio.Scanner
	out  io.Writer

	// rendered tracks how much of each transcript entry has already
	// been printed, keyed by entry ID.
	rendered map[string]int
}

func (r *repl) run(ctx context.Context, model string) error {
	if err := r.ctrl.Initialize(ctx); err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	if model != "" {
		if err := r.ctrl.SetModel(model); err != nil {
			return fmt.Errorf("select model %q: %w", model, err)
		}
	}

	if r.ctrl.State() == session.StateJoining {
		if err := r.join(ctx); err != nil {
			return err
		}
	} else if id := r.ctrl.Identity(); id != nil {
		fmt.Fprintf(r.out, "Welcome back, %s!\n", id.DisplayName)
	}

	r.showStatus()
	r.showHelp()

	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			r.showHelp()
		case line == "/puzzle":
			r.showStatus()
		case line == "/models":
			r.showModels()
		case strings.HasPrefix(line, "/model "):
			r.selectModel(strings.TrimSpace(strings.TrimPrefix(line, "/model")))
		case line == "/again":
			if err := r.playAgain(ctx); err != nil {
				return err
			}
		case strings.HasPrefix(line, "/answer"):
			r.attempt(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/answer")))
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(r.out, "Unknown command %q. Try /help.\n", line)
		default:
			r.chat(ctx, line)
		}
	}
}

func (r *repl) join(ctx context.Context) error {
	for {
		fmt.Fprint(r.out, "Your name: ")
		if !r.in.Scan() {
			return r.in.Err()
		}
		name := strings.TrimSpace(r.in.Text())

		err := r.ctrl.Join(ctx, name)
		if err == nil {
			fmt.Fprintf(r.out, "Welcome, %s!\n", name)
			return nil
		}
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(r.out, "%s\n", verr.Reason)
			continue
		}
		fmt.Fprintf(r.out, "Could not join: %v. Try again.\n", err)
	}
}

func (r *repl) playAgain(ctx context.Context) error {
	if err := r.ctrl.PlayAgain(); err != nil {
		fmt.Fprintf(r.out, "Cannot restart: %v\n", err)
		return nil
	}
	if err := r.join(ctx); err != nil {
		return err
	}
	r.showStatus()
	return nil
}

func (r *repl) attempt(ctx context.Context, answer string) {
	if answer == "" {
		fmt.Fprintln(r.out, "Usage: /answer <your answer>")
		return
	}

	result, err := r.ctrl.SubmitAttempt(ctx, answer)
	if err != nil {
		fmt.Fprintf(r.out, "Attempt failed: %v\n", err)
		return
	}

	if result.Message != "" {
		fmt.Fprintln(r.out, result.Message)
	}
	if result.Victory {
		fmt.Fprintln(r.out, "Type /again to start over, or /quit to leave.")
		return
	}
	if result.Correct {
		r.showStatus()
	}
}

func (r *repl) chat(ctx context.Context, message string) {
	if r.ctrl.State() == session.StateVictory {
		fmt.Fprintln(r.out, "The game is over. Type /again to start a new one.")
		return
	}

	r.rendered = make(map[string]int)
	for _, e := range r.ctrl.Transcript() {
		r.rendered[e.ID] = len(e.Text)
	}

	err := r.ctrl.RunTurn(ctx, message, r.render)
	fmt.Fprintln(r.out)
	if err != nil {
		fmt.Fprintf(r.out, "Chat failed: %v\n", err)
	}
}

// render prints only the unseen tail of the transcript, so streamed
// fragments appear as they arrive.
func (r *repl) render(entries []transcript.Entry) {
	for _, e := range entries {
		seen, known := r.rendered[e.ID]
		if !known {
			switch e.Role {
			case transcript.RoleThinking:
				fmt.Fprint(r.out, "\n[thinking] ")
			case transcript.RoleAssistant:
				fmt.Fprint(r.out, "\n")
			case transcript.RoleUser:
				// Typed by the player, already on screen.
				r.rendered[e.ID] = len(e.Text)
				continue
			}
		}
		if len(e.Text) > seen {
			fmt.Fprint(r.out, e.Text[seen:])
			r.rendered[e.ID] = len(e.Text)
		}
	}
}

func (r *repl) showStatus() {
	switch r.ctrl.State() {
	case session.StateVictory:
		fmt.Fprintln(r.out, "You have solved every puzzle. Type /again to start over.")
	case session.StatePlaying:
		if p := r.ctrl.Puzzle(); p != nil {
			stage := 0
			if id := r.ctrl.Identity(); id != nil {
				stage = id.Stage
			}
			fmt.Fprintf(r.out, "\n--- Stage %d ---\n%s\n\n", stage, p.Prompt)
		}
	}
}

func (r *repl) showModels() {
	models := r.ctrl.Models()
	if models == nil {
		fmt.Fprintln(r.out, "No models available.")
		return
	}
	current := r.ctrl.Model()
	for _, opt := range models.Options {
		marker := " "
		if opt.Name == current {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s (%s)\n", marker, opt.Name, opt.DisplayName)
	}
}

func (r *repl) selectModel(name string) {
	if err := r.ctrl.SetModel(name); err != nil {
		fmt.Fprintf(r.out, "Cannot select model: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Now chatting with %s.\n", name)
}

func (r *repl) showHelp() {
	fmt.Fprintln(r.out, "Commands: /answer <text>, /puzzle, /models, /model <name>, /again, /help, /quit")
	fmt.Fprintln(r.out, "Anything else is sent to the model as a chat message.")
}
