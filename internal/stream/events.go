package stream

import "github.com/grogi/agent-server/internal/domain"

// Wire event names for the chat stream.
const (
	EventStatus          = "status"
	EventAnalysisPreview = "analysis_preview"
	EventToken           = "token"
	EventSection         = "section"
	EventCrisis          = "crisis"
	EventScore           = "score"
	EventShareCard       = "share_card"
	EventError           = "error"
	EventDone            = "done"
)

// Sink delivers one named event to the client. Implementations are the
// SSE and websocket transports.
type Sink interface {
	Send(event string, data any) error
}

// StatusPayload is a human-readable progress marker.
type StatusPayload struct {
	Step   string `json:"step"`
	Detail string `json:"detail"`
}

// PreviewPayload is the placeholder score skeleton sent while the turn is
// still running. Pointers stay nil so every sub-score serializes as null.
type PreviewPayload struct {
	Total             *int   `json:"total"`
	GoalRealism       *int   `json:"goal_realism"`
	EffortSpecificity *int   `json:"effort_specificity"`
	ExternalBlame     *int   `json:"external_blame"`
	InfoSeeking       *int   `json:"info_seeking"`
	TimeUrgency       *int   `json:"time_urgency"`
	Summary           string `json:"summary"`
}

// TokenPayload carries one incremental fragment of answer text.
type TokenPayload struct {
	Content string `json:"content"`
}

// SectionPayload marks the start of answer streaming.
type SectionPayload struct {
	Type string `json:"type"`
}

// ErrorPayload is sent once when the turn fails, always followed by done.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScorePayload is the domain score as sent on the wire.
type ScorePayload domain.RealityScore

// ShareCardPayload is the domain share card as sent on the wire.
type ShareCardPayload domain.ShareCard
