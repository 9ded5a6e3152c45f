package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/auth"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/core"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/observability"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

type ctxKey string

const ctxKeyUserID ctxKey = "userID"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HandlerOptions struct {
	JWTSecret     string
	HideForbidden bool
	Pinger        Pinger
}

type APIHandler struct {
	sessions      *core.SessionService
	jwtSecret     string
	hideForbidden bool
	pinger        Pinger
}

func NewAPIHandler(svc *core.SessionService, opts HandlerOptions) *APIHandler {
	return &APIHandler{
		sessions:      svc,
		jwtSecret:     opts.JWTSecret,
		hideForbidden: opts.HideForbidden,
		pinger:        opts.Pinger,
	}
}

// RequestLoggerMiddleware stores a logger tagged with the chi request id in
// the request context.
func RequestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := observability.Logger().With(
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), l)))
	})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(h.jwtSecret, tokenString)
		if err != nil {
			observability.LoggerFromContext(r.Context()).Debug("rejected token", "error", err)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = observability.WithLogger(ctx, observability.LoggerFromContext(ctx).With("user_id", userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			observability.LoggerFromContext(r.Context()).Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"success": false,
				"status":  "degraded",
				"store":   "unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok", "store": "ok"})
}

type StartSessionRequest struct {
	PersonaID string           `json:"persona_id"`
	Mode      string           `json:"mode"`
	Questions []store.Question `json:"questions,omitempty"`
}

func (h *APIHandler) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PersonaID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "persona_id is required")
		return
	}

	out, err := h.sessions.StartSession(r.Context(), core.StartSessionInput{
		UserID:    userIDFrom(r),
		PersonaID: req.PersonaID,
		Mode:      store.Mode(strings.ToLower(req.Mode)),
		Questions: req.Questions,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]any{
		"session_id":      out.Session.ID,
		"mode":            out.Session.Mode,
		"persona_name":    out.Session.PersonaName,
		"opening_message": out.OpeningMessage,
		"questions":       out.Session.Questions,
		"session":         out.Session,
	})
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.sessions.ListSessions(r.Context(), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"session": session})
}

type PostMessageRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Message cannot be empty")
		return
	}

	out, err := h.sessions.PostMessage(r.Context(), core.PostMessageInput{
		SessionID: chi.URLParam(r, "sessionID"),
		UserID:    userIDFrom(r),
		Text:      req.Message,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, replyPayload(out))
}

func (h *APIHandler) RespondHandler(w http.ResponseWriter, r *http.Request) {
	out, err := h.sessions.Respond(r.Context(), chi.URLParam(r, "sessionID"), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, replyPayload(out))
}

func replyPayload(out *core.PostMessageOutput) map[string]any {
	return map[string]any{
		"session_id":          out.SessionID,
		"response":            out.Reply.Text,
		"user_turn":           out.UserTurn,
		"reply":               out.Reply,
		"conversation_length": out.ConversationLength,
		"resumed":             out.Resumed,
	}
}

type RecordAnswerRequest struct {
	QuestionIndex *int     `json:"question_index"`
	AnswerText    string   `json:"answer_text"`
	TimeTaken     *float64 `json:"time_taken,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

func (h *APIHandler) RecordAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req RecordAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.QuestionIndex == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "question_index is required")
		return
	}

	turn, err := h.sessions.RecordAnswer(r.Context(), core.RecordAnswerInput{
		SessionID:     chi.URLParam(r, "sessionID"),
		UserID:        userIDFrom(r),
		QuestionIndex: *req.QuestionIndex,
		Answer: core.Answer{
			Text:       req.AnswerText,
			TimeTaken:  req.TimeTaken,
			Confidence: req.Confidence,
		},
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"turn": turn})
}

type RecordAnalysisRequest struct {
	// Question index for scripted sessions, turn index for chat sessions.
	Index             *int            `json:"index"`
	Transcription     string          `json:"transcription"`
	RecordingDuration *float64        `json:"recording_duration,omitempty"`
	Analysis          *store.Analysis `json:"analysis"`
}

func (h *APIHandler) RecordAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	var req RecordAnalysisRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Index == nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "index is required")
		return
	}

	turn, err := h.sessions.RecordAnalysis(r.Context(), core.RecordAnalysisInput{
		SessionID: chi.URLParam(r, "sessionID"),
		UserID:    userIDFrom(r),
		Index:     *req.Index,
		Recording: core.Recording{
			Transcription: req.Transcription,
			Duration:      req.RecordingDuration,
			Analysis:      req.Analysis,
		},
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"turn": turn})
}

func (h *APIHandler) CompleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	out, err := h.sessions.CompleteSession(r.Context(), chi.URLParam(r, "sessionID"), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"session_id":   out.Session.ID,
		"status":       out.Session.Status,
		"completed_at": out.Session.CompletedAt,
		"total_turns":  out.TotalTurns,
	})
}

func (h *APIHandler) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.GetConversationHistory(r.Context(), chi.URLParam(r, "sessionID"), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"conversation": snap})
}

func (h *APIHandler) PracticeHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := h.sessions.GetUserTrend(r.Context(), userIDFrom(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"stats":           history.Stats,
		"score_trend":     history.Trend,
		"recent_sessions": history.RecentSessions,
	})
}

type CompareSessionsRequest struct {
	SessionIDs []string `json:"session_ids"`
}

func (h *APIHandler) CompareSessionsHandler(w http.ResponseWriter, r *http.Request) {
	var req CompareSessionsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	comparisons, err := h.sessions.CompareSessions(r.Context(), userIDFrom(r), req.SessionIDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"comparisons": comparisons})
}

// errorStatus maps an engine error kind to its HTTP status and stable code.
func (h *APIHandler) errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, core.ErrForbidden):
		if h.hideForbidden {
			return http.StatusNotFound, "NOT_FOUND"
		}
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, core.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, core.ErrGenerationUnavailable):
		return http.StatusBadGateway, "GENERATION_UNAVAILABLE"
	case errors.Is(err, core.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := h.errorStatus(err)
	log := observability.LoggerFromContext(r.Context())

	message := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("request failed", "code", code, "error", err)
		message = publicMessage(code)
	case code == "NOT_FOUND" && errors.Is(err, core.ErrForbidden):
		log.Warn("access to another user's session", "error", err)
		message = "session not found"
	default:
		log.Info("request rejected", "code", code, "error", err)
	}
	writeError(w, status, code, message)
}

func publicMessage(code string) string {
	switch code {
	case "GENERATION_UNAVAILABLE":
		return "Failed to generate a response, please retry"
	case "STORAGE_UNAVAILABLE":
		return "Storage is temporarily unavailable"
	default:
		return "Internal server error"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeSuccess(w http.ResponseWriter, status int, payload map[string]any) {
	payload["success"] = true
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		observability.Logger().Error("failed to encode response", "error", err)
	}
}
