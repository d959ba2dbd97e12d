package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/grogi/agent-server/internal/domain"
	"github.com/grogi/agent-server/internal/identity"
	"github.com/grogi/agent-server/internal/stream"
	"github.com/grogi/agent-server/internal/turn"
)

// Request caps mirror the client contract.
const (
	maxMessageRunes = 10000
	maxHistoryTurns = 50
	maxImages       = 5
	maxDocuments    = 3
	historyLoadCap  = 20
)

// ChatRequest is the body of POST /agent/chat.
type ChatRequest struct {
	SessionID   string                      `json:"session_id"`
	UserMessage string                      `json:"user_message"`
	History     []domain.ChatMessage        `json:"history,omitempty"`
	Images      []string                    `json:"images,omitempty"`
	Documents   []domain.DocumentAttachment `json:"documents,omitempty"`
}

func (req *ChatRequest) validate() error {
	if strings.TrimSpace(req.UserMessage) == "" {
		return fmt.Errorf("user_message is required")
	}
	if utf8.RuneCountInString(req.UserMessage) > maxMessageRunes {
		return fmt.Errorf("user_message exceeds %d characters", maxMessageRunes)
	}
	if len(req.History) > maxHistoryTurns {
		return fmt.Errorf("history exceeds %d turns", maxHistoryTurns)
	}
	if len(req.Images) > maxImages {
		return fmt.Errorf("too many images (max %d)", maxImages)
	}
	if len(req.Documents) > maxDocuments {
		return fmt.Errorf("too many documents (max %d)", maxDocuments)
	}
	return nil
}

// sseSink streams events as server-sent events. Writes are serialized
// because the keepalive ticker and the turn goroutines share the writer.
type sseSink struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

func (s *sseSink) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) keepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleChat handles POST /agent/chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	// The body wins; without one, fall back to the session id the identity
	// middleware pulled from the request header.
	sessionID := identity.SessionIDFromContext(r.Context())
	if strings.TrimSpace(req.SessionID) != "" {
		sessionID = identity.SanitizeSessionID(req.SessionID)
	}
	reqID := chiMiddleware.GetReqID(r.Context())

	slog.Info("Agent chat request",
		"user_id", userID,
		"session_id", sessionID,
		"request_id", reqID,
		"message_length", len(req.UserMessage),
	)

	// Stream response via SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	sink := &sseSink{w: w, flusher: flusher}

	// Keepalive comments bridge the quiet stretches while analysis runs.
	kaCtx, kaStop := context.WithCancel(r.Context())
	defer kaStop()
	go func() {
		ticker := time.NewTicker(h.cfg.SSEKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				if err := sink.keepalive(); err != nil {
					return
				}
			}
		}
	}()

	st := h.runTurn(r.Context(), userID, sessionID, &req, sink)
	kaStop()

	h.persistTurn(userID, sessionID, &req, st)
}

// runTurn executes one turn of the graph against the request and streams
// events to the sink. The returned state reflects whatever the turn managed
// to produce before completing, early-exiting or timing out.
func (h *Handler) runTurn(ctx context.Context, userID, sessionID string, req *ChatRequest, sink stream.Sink) *turn.State {
	st := turn.NewState(sessionID, req.UserMessage)
	st.History = req.History
	st.Images = req.Images
	st.Documents = req.Documents

	if len(st.History) == 0 {
		msgs, err := h.repo.History(ctx, sessionID, historyLoadCap)
		if err != nil {
			slog.Warn("History load failed, continuing without it", "session_id", sessionID, "error", err)
		}
		for _, m := range msgs {
			st.History = append(st.History, domain.ChatMessage{Role: m.Role, Content: m.Content})
		}
	}

	adapter := stream.NewAdapter(sink, h.pack)

	turnCtx, cancel := context.WithTimeout(ctx, h.cfg.TurnTimeout)
	defer cancel()
	turnCtx = stream.WithTokenSink(turnCtx, adapter.Token)

	err := h.exec.Run(turnCtx, st, adapter)
	if err != nil {
		slog.Error("Turn failed", "user_id", userID, "session_id", sessionID, "error", err)
	}
	adapter.Finish(err)
	return st
}

// persistTurn records the exchange after the stream has closed. Persistence
// failures are logged, never surfaced to the client.
func (h *Handler) persistTurn(userID, sessionID string, req *ChatRequest, st *turn.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.repo.EnsureSession(ctx, sessionID, userID, string(st.Category)); err != nil {
		slog.Warn("Session persist failed", "session_id", sessionID, "error", err)
		return
	}

	if _, err := h.repo.AppendMessage(ctx, &domain.Message{
		SessionID: sessionID,
		Role:      "user",
		Content:   req.UserMessage,
	}); err != nil {
		slog.Warn("User message persist failed", "session_id", sessionID, "error", err)
	}

	assistant := &domain.Message{
		SessionID: sessionID,
		Role:      "assistant",
	}
	switch st.CrisisLevel {
	case turn.Crisis:
		assistant.Content = h.pack.CrisisMessage
	case turn.CrisisUnclear:
		assistant.Content = h.pack.UnclearPrompt
	default:
		assistant.Content = st.AnswerText
		if st.Score != nil {
			total := st.Score.Total
			assistant.RealityScore = &total
			if raw, err := json.Marshal(st.Score.Breakdown); err == nil {
				s := string(raw)
				assistant.ScoreBreakdown = &s
			}
		}
	}
	if assistant.Content == "" {
		return
	}

	msgID, err := h.repo.AppendMessage(ctx, assistant)
	if err != nil {
		slog.Warn("Assistant message persist failed", "session_id", sessionID, "error", err)
		return
	}

	if st.ShareCard != nil {
		actions, err := json.Marshal(st.ShareCard.Actions)
		if err != nil {
			slog.Warn("Share card actions marshal failed", "session_id", sessionID, "error", err)
			return
		}
		if err := h.repo.SaveShareCard(ctx, &domain.StoredShareCard{
			MessageID: msgID,
			Summary:   st.ShareCard.Summary,
			Score:     st.ShareCard.Score,
			Actions:   string(actions),
		}); err != nil {
			slog.Warn("Share card persist failed", "session_id", sessionID, "error", err)
		}
	}
}
