package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/grogi/agent-server/internal/identity"
	"github.com/grogi/agent-server/internal/ports"
)

const titleMaxRunes = 15

// TitleRequest is the body of POST /agent/title.
type TitleRequest struct {
	SessionID   string `json:"session_id"`
	UserMessage string `json:"user_message"`
}

// HandleTitle generates a short conversation title in the language of the
// opening message. Model failures degrade to a truncated echo of the message.
func (h *Handler) HandleTitle(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req TitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		Error(w, http.StatusBadRequest, "user_message is required")
		return
	}

	// Detect the message language first so the title comes back in it.
	lang, err := h.gen.Generate(r.Context(), h.pack.LanguageDetector, nil, ports.Message{
		Role:    ports.RoleUser,
		Content: req.UserMessage,
	})
	lang = strings.TrimSpace(lang)
	if err != nil || lang == "" {
		if err != nil {
			slog.Warn("Title language detection failed, defaulting to Korean", "error", err)
		}
		lang = "Korean"
	}

	system := fmt.Sprintf("%s\n- Write the title in %s.", strings.TrimRight(h.pack.TitleMaker, "\n"), lang)
	title, err := h.gen.Generate(r.Context(), system, nil, ports.Message{
		Role:    ports.RoleUser,
		Content: req.UserMessage,
	})
	if err != nil || strings.TrimSpace(title) == "" {
		if err != nil {
			slog.Warn("Title generation failed, using fallback", "error", err)
		}
		title = req.UserMessage
	}
	title = truncateRunes(strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`)), titleMaxRunes)

	if sid := identity.SanitizeSessionID(req.SessionID); req.SessionID != "" {
		if err := h.repo.SetSessionTitle(r.Context(), sid, title); err != nil {
			slog.Warn("Title persist failed", "session_id", sid, "error", err)
		}
	}

	JSON(w, http.StatusOK, map[string]string{"title": title})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
