package domain

import (
	"time"
)

// Session represents a persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a persisted chat message within a session.
type Message struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	RealityScore   *int      `json:"reality_score,omitempty"`
	ScoreBreakdown *string   `json:"score_breakdown,omitempty"` // JSON-encoded ScoreBreakdown
	CreatedAt      time.Time `json:"created_at"`
}

// StoredShareCard is a persisted share card attached to an assistant message.
type StoredShareCard struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Summary   string    `json:"summary"`
	Score     int       `json:"score"`
	Actions   string    `json:"actions"` // JSON-encoded []string
	CreatedAt time.Time `json:"created_at"`
}
