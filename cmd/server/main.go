// Deduction - Puzzle Game Backend Server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deduction-labs/deduction/internal/api"
	"github.com/deduction-labs/deduction/internal/chatlog"
	"github.com/deduction-labs/deduction/internal/config"
	"github.com/deduction-labs/deduction/internal/game"
	"github.com/deduction-labs/deduction/internal/llm"
	"github.com/deduction-labs/deduction/internal/middleware"
	"github.com/deduction-labs/deduction/internal/questions"
	"github.com/deduction-labs/deduction/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	root := &cobra.Command{
		Use:          "server",
		Short:        "Deduction puzzle game backend",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(logger)
		},
	}

	var questionsPath string
	importCmd := &cobra.Command{
		Use:   "import-questions",
		Short: "Load the question bank from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return importQuestions(cmd.Context(), questionsPath)
		},
	}
	importCmd.Flags().StringVar(&questionsPath, "file", "", "CSV file with stage,prompt,answer rows (defaults to QUESTIONS_FILE)")

	root.AddCommand(serveCmd, importCmd)

	if err := root.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func serve(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slog.Info("Starting server", "port", cfg.Port, "max_stage", cfg.MaxStage)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	chatLogger, err := chatlog.New(chatlog.Config{
		Enabled:   cfg.ChatLog.Enabled,
		Dir:       cfg.ChatLog.Dir,
		QueueSize: cfg.ChatLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize chat log: %w", err)
	}
	defer func() {
		if closeErr := chatLogger.Close(); closeErr != nil {
			slog.Error("Failed to close chat log", "error", closeErr)
		}
	}()

	catalog := llm.NewCatalog(
		llm.ModelSpec{Name: cfg.LLM.HaikuModel, DisplayName: "Claude 3.5 Haiku"},
		llm.ModelSpec{Name: cfg.LLM.SonnetModel, DisplayName: "Claude 3.7 Sonnet", Thinking: true},
	)
	provider := llm.NewAnthropicClient(llm.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		MaxTokens:       cfg.LLM.MaxTokens,
		ReasoningBudget: cfg.LLM.ReasoningBudget,
		Timeout:         cfg.LLM.Timeout,
	}, logger)

	svc := game.NewService(repo, cfg.MaxStage)
	gameHandler := api.NewGameHandlerWithChatLog(svc, catalog, provider, chatLogger, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	gameHandler.RegisterRoutes(r)

	// Streaming responses require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func importQuestions(ctx context.Context, path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if path == "" {
		path = cfg.QuestionsFile
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	n, err := questions.ImportFile(ctx, repo, path)
	if err != nil {
		return fmt.Errorf("import questions: %w", err)
	}
	slog.Info("Question bank imported", "file", path, "count", n)
	return nil
}
