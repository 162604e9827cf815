package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/deduction-labs/deduction/internal/chatlog"
	"github.com/deduction-labs/deduction/internal/game"
	"github.com/deduction-labs/deduction/internal/llm"
	"github.com/deduction-labs/deduction/internal/stream"
	"github.com/deduction-labs/deduction/internal/transcript"
)

// maxNameLength bounds the player name accepted by /join.
const maxNameLength = 50

// GameHandler serves the game and model endpoints.
type GameHandler struct {
	svc      *game.Service
	catalog  *llm.Catalog
	provider llm.Provider
	chatLog  chatlog.Logger
	logger   *slog.Logger
}

// NewGameHandler wires the game service, the model catalog, and the
// completion provider into an HTTP handler. Chat logging is off.
func NewGameHandler(svc *game.Service, catalog *llm.Catalog, provider llm.Provider, logger *slog.Logger) *GameHandler {
	if logger == nil {
		logger = slog.Default()
	}
	noop, _ := chatlog.New(chatlog.Config{}, logger)
	return &GameHandler{svc: svc, catalog: catalog, provider: provider, chatLog: noop, logger: logger}
}

// NewGameHandlerWithChatLog creates a handler that also records chat
// traffic through log.
func NewGameHandlerWithChatLog(svc *game.Service, catalog *llm.Catalog, provider llm.Provider, log chatlog.Logger, logger *slog.Logger) *GameHandler {
	h := NewGameHandler(svc, catalog, provider, logger)
	if log != nil {
		h.chatLog = log
	}
	return h
}

// RegisterRoutes registers the game routes.
func (h *GameHandler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.ListModels)
	r.Post("/join", h.Join)
	r.Post("/attempt", h.Attempt)
	r.Post("/model-run", h.ModelRun)
}

// ListModels returns the selectable models and the default choice.
func (h *GameHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"default": h.catalog.Default,
		"options": h.catalog.Options,
	})
}

type joinRequest struct {
	Name     string `json:"name"`
	StartNew bool   `json:"start_new"`
}

// Join registers or resumes a player session.
func (h *GameHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLength {
		Error(w, http.StatusBadRequest, "name must be between 1 and 50 characters")
		return
	}

	result, err := h.svc.Join(r.Context(), name, req.StartNew)
	if err != nil {
		h.logger.Error("join failed", "error", err, "name", name)
		Error(w, http.StatusInternalServerError, "failed to join game")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user":     result.User,
		"question": result.Question,
	})
}

type attemptRequest struct {
	UserID string `json:"user_id"`
	Answer string `json:"answer"`
}

// Attempt checks an answer and reports progression.
func (h *GameHandler) Attempt(w http.ResponseWriter, r *http.Request) {
	var req attemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	h.chatLog.Log(chatlog.Event{
		UserID:    req.UserID,
		EventType: chatlog.EventAnswerAttempt,
		Content:   req.Answer,
	})

	result, err := h.svc.SubmitAnswer(r.Context(), req.UserID, req.Answer)
	if err != nil {
		if errors.Is(err, game.ErrUnknownUser) {
			Error(w, http.StatusNotFound, "unknown user")
			return
		}
		h.logger.Error("attempt failed", "error", err, "user_id", req.UserID)
		Error(w, http.StatusInternalServerError, "failed to check answer")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"correct":  result.Correct,
		"victory":  result.Victory,
		"question": result.Question,
		"message":  result.Message,
	})
}

type modelRunRequest struct {
	Model    string               `json:"model"`
	Messages []transcript.Message `json:"messages"`
	UserID   string               `json:"user_id"`
}

// ModelRun proxies a chat to the model and streams framed records back
// on the response body.
func (h *GameHandler) ModelRun(w http.ResponseWriter, r *http.Request) {
	var req modelRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	spec, ok := h.catalog.Lookup(req.Model)
	if !ok {
		h.logger.Error("unsupported model requested", "model", req.Model)
		Error(w, http.StatusBadRequest, "Unsupported model selected.")
		return
	}

	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "user" {
		h.chatLog.Log(chatlog.Event{
			UserID:    req.UserID,
			Model:     spec.Name,
			EventType: chatlog.EventUserMessage,
			Content:   req.Messages[n-1].Content,
		})
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	sw := stream.NewWriter(w)
	var reply strings.Builder
	for rec, err := range h.provider.Stream(r.Context(), spec, req.Messages) {
		if err != nil {
			// The status line is already out; the error travels as the
			// final framed record.
			h.logger.Error("model stream failed", "error", err, "model", spec.Name)
			h.chatLog.Log(chatlog.Event{
				UserID:    req.UserID,
				Model:     spec.Name,
				EventType: chatlog.EventStreamFailure,
				Content:   err.Error(),
			})
			if werr := sw.WriteError("An internal error occurred while streaming the AI response."); werr != nil {
				h.logger.Warn("failed to write stream error", "error", werr)
			}
			return
		}
		if rec.Kind() == stream.KindText {
			reply.WriteString(rec.Fragment())
		}
		if err := sw.Write(rec); err != nil {
			// Client went away mid-stream.
			h.logger.Warn("client disconnected during stream", "error", err)
			return
		}
	}

	if reply.Len() > 0 {
		h.chatLog.Log(chatlog.Event{
			UserID:    req.UserID,
			Model:     spec.Name,
			EventType: chatlog.EventModelResponse,
			Content:   reply.String(),
		})
	}
}
