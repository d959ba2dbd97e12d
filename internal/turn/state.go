// Package turn defines the per-turn state record flowing through the
// orchestration graph, plus the closed enums used for routing decisions.
package turn

import (
	"strings"

	"github.com/grogi/agent-server/internal/domain"
)

// Loop ceilings. Search exits unconditionally after two rewrites; answer
// refinement happens at most once per turn.
const (
	MaxSearchAttempts = 2
	MaxAnswerRetries  = 1
)

// Sentinel values passed through otherwise free-text channels.
const (
	CritiquePass = "PASS"
	NoSearch     = "NONE"
)

// CrisisLevel is the safety classification of a turn.
type CrisisLevel string

const (
	CrisisUnknown CrisisLevel = ""
	CrisisSafe    CrisisLevel = "safe"
	CrisisUnclear CrisisLevel = "unclear"
	Crisis        CrisisLevel = "crisis"
)

// NormalizeCrisisLevel maps raw classifier output onto the closed enum.
// Ambiguous output resolves to safe; the classifier is prompted with a
// conservative bias so an unrecognized label must not escalate.
func NormalizeCrisisLevel(raw string) CrisisLevel {
	switch v := strings.ToLower(strings.TrimSpace(raw)); {
	case strings.Contains(v, "crisis"):
		return Crisis
	case strings.Contains(v, "unclear"):
		return CrisisUnclear
	default:
		return CrisisSafe
	}
}

// Category is the topical classification of a turn.
type Category string

const (
	CategoryCareer  Category = "career"
	CategoryLove    Category = "love"
	CategoryFinance Category = "finance"
	CategorySelf    Category = "self"
	CategoryEtc     Category = "etc"
)

// NormalizeCategory maps raw classifier output onto the closed category set,
// falling back to etc.
func NormalizeCategory(raw string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryCareer:
		return CategoryCareer
	case CategoryLove:
		return CategoryLove
	case CategoryFinance:
		return CategoryFinance
	case CategorySelf:
		return CategorySelf
	default:
		return CategoryEtc
	}
}

// State is the mutable record owned by exactly one graph run for the duration
// of one turn. Derived fields are each written by exactly one stage; fan-out
// stages therefore share the record concurrently without locking. The
// append-only SearchQueryHistory is only touched by nodes inside the
// sequential search cycle.
type State struct {
	// Identity and caller-supplied context, read-only within a turn.
	SessionID   string
	UserMessage string
	History     []domain.ChatMessage
	Images      []string
	Documents   []domain.DocumentAttachment

	// Derived fields, one writer each.
	CrisisLevel        CrisisLevel
	DetectedLanguage   string
	Category           Category
	ImageAnalysis      string
	DocumentText       string
	DocumentPageImages []string
	SearchQuery        string
	SearchFindings     string
	SearchAttempts     int
	SearchQueryHistory []string
	AnswerText         string
	AnswerCritique     string
	AnswerRetryCount   int
	RefineGuidance     string
	Score              *domain.RealityScore
	ShareCard          *domain.ShareCard
}

// NewState initializes a turn state with all derived fields empty and the
// critique defaulted to the accepting sentinel.
func NewState(sessionID, userMessage string) *State {
	return &State{
		SessionID:      sessionID,
		UserMessage:    userMessage,
		AnswerCritique: CritiquePass,
	}
}

// RecentHistory returns up to the last n history turns.
func (s *State) RecentHistory(n int) []domain.ChatMessage {
	if len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
