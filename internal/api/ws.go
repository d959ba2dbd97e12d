package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/grogi/agent-server/internal/identity"
)

// wsFrame is the JSON envelope for one event on the websocket transport.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsSink delivers events as JSON frames over a websocket connection.
// Writes use a detached context so in-flight events drain even while the
// request context is being torn down.
type wsSink struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (s *wsSink) Send(event string, data any) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	frame, err := json.Marshal(wsFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}
	if err := s.conn.Write(context.Background(), websocket.MessageText, frame); err != nil {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		slog.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}

// HandleChatWS handles GET /agent/chat/ws. The client sends one ChatRequest
// frame and receives the same event sequence the SSE endpoint produces.
func (h *Handler) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "turn complete"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws.SetReadLimit(h.cfg.MaxBodyBytes)

	_, raw, err := ws.Read(ctx)
	if err != nil {
		slog.Debug("WebSocket read failed", "error", err, "user_id", userID)
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = ws.Close(websocket.StatusInvalidFramePayloadData, "invalid request")
		return
	}
	if err := req.validate(); err != nil {
		_ = ws.Close(websocket.StatusInvalidFramePayloadData, err.Error())
		return
	}

	if !h.rateLimiter.Allow(userID) {
		_ = ws.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
		return
	}

	sessionID := identity.SessionIDFromContext(r.Context())
	if strings.TrimSpace(req.SessionID) != "" {
		sessionID = identity.SanitizeSessionID(req.SessionID)
	}
	slog.Info("Agent chat request",
		"user_id", userID,
		"session_id", sessionID,
		"transport", "websocket",
		"message_length", len(req.UserMessage),
	)

	sink := &wsSink{conn: ws, ctx: ctx}
	st := h.runTurn(ctx, userID, sessionID, &req, sink)

	h.persistTurn(userID, sessionID, &req, st)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.cfg.FrontendURL != "" && strings.HasPrefix(origin, h.cfg.FrontendURL)
}
