package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deduction-labs/deduction/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		current_stage INTEGER NOT NULL DEFAULT 1,
		joined_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_name ON users(name, joined_at);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		stage INTEGER NOT NULL,
		prompt TEXT NOT NULL,
		answer TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_questions_stage ON questions(stage);

	CREATE TABLE IF NOT EXISTS stats (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a new user at stage 1.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string) (*domain.User, error) {
	user := &domain.User{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(name),
		CurrentStage: 1,
		JoinedAt:     time.Now(),
	}

	query := `INSERT INTO users (id, name, current_stage, joined_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Name, user.CurrentStage, user.JoinedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by their ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT id, name, current_stage, joined_at FROM users WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var joinedAt int64
	err := row.Scan(&user.ID, &user.Name, &user.CurrentStage, &joinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.JoinedAt = time.Unix(joinedAt, 0)
	return &user, nil
}

// FindUserIDByName returns the oldest user ID for the name, or "".
func (s *SQLiteStore) FindUserIDByName(ctx context.Context, name string) (string, error) {
	query := `SELECT id FROM users WHERE name = ? ORDER BY joined_at ASC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(name))

	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan user id: %w", err)
	}
	return id, nil
}

// UpdateUserStage sets the current stage for the specified user.
func (s *SQLiteStore) UpdateUserStage(ctx context.Context, userID string, stage int) error {
	query := `UPDATE users SET current_stage = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, stage, userID)
	if err != nil {
		return fmt.Errorf("update user stage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateUserStage affected 0 rows", "user_id", userID)
	}
	return nil
}

// DeleteUser removes a user record.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// QuestionForStage returns the first question for the stage, or nil.
func (s *SQLiteStore) QuestionForStage(ctx context.Context, stage int) (*domain.Question, error) {
	query := `SELECT id, stage, prompt, answer FROM questions WHERE stage = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, stage)

	var q domain.Question
	err := row.Scan(&q.ID, &q.Stage, &q.Prompt, &q.Answer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan question row: %w", err)
	}
	return &q, nil
}

// InsertQuestions bulk-inserts questions inside a single transaction.
func (s *SQLiteStore) InsertQuestions(ctx context.Context, questions []domain.Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			slog.Warn("failed to roll back question insert", "error", rollbackErr)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO questions (id, stage, prompt, answer) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare question insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range questions {
		if _, err := stmt.ExecContext(ctx, q.ID, q.Stage, q.Prompt, q.Answer); err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit question insert: %w", err)
	}
	return nil
}

// IncrementStat bumps an aggregate counter.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) IncrementStat(ctx context.Context, key string, delta int64) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.incrementStatOnce(ctx, key, delta)
		if err == nil {
			return nil
		}

		if isSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("IncrementStat hit SQLITE_BUSY, retrying",
				"key", key,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("increment stat %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) incrementStatOnce(ctx context.Context, key string, delta int64) error {
	query := `
		INSERT INTO stats (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = stats.value + excluded.value`
	_, err := s.db.ExecContext(ctx, query, key, delta)
	return err
}

// isSQLiteConflict reports whether the error is a SQLite concurrency
// error that warrants a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
