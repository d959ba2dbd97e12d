package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/turn"
)

// SafetyCheck classifies the turn as safe, unclear, or crisis.
//
// The three-step protocol:
//  1. A pending-confirmation entry from a prior unclear turn means this
//     message answers "did you mean that literally?". Keyword affirmation
//     escalates to crisis, negation resolves to safe, anything else is
//     classified by the model as crisis/safe only. The pending entry is
//     consumed regardless of outcome.
//  2. A high-confidence danger keyword short-circuits to crisis without any
//     model call.
//  3. Otherwise the model classifies message plus recent history into
//     safe/unclear/crisis under a conservative bias.
//
// An unclear result writes a fresh pending-confirmation entry so the next
// turn can resolve it.
func (s *Stages) SafetyCheck(ctx context.Context, st *turn.State) error {
	if pendingMsg, ok := s.sessions.Pending.Take(st.SessionID); ok {
		st.CrisisLevel = s.resolveConfirmation(ctx, st, pendingMsg)
		return nil
	}

	if containsAny(st.UserMessage, s.pack.DangerKeywords) {
		st.CrisisLevel = turn.Crisis
		return nil
	}

	level, err := s.classifySafety(ctx, st)
	if err != nil {
		// Classifier unavailable: the keyword screen above already caught
		// the high-confidence cases, so fail toward continuing the turn.
		slog.Warn("Safety classification failed, defaulting to safe", "session_id", st.SessionID, "error", err)
		st.CrisisLevel = turn.CrisisSafe
		return nil
	}
	st.CrisisLevel = level

	if level == turn.CrisisUnclear {
		s.sessions.Pending.Put(st.SessionID, st.UserMessage)
	}
	return nil
}

// resolveConfirmation interprets the current message as the answer to the
// previous turn's clarifying question.
func (s *Stages) resolveConfirmation(ctx context.Context, st *turn.State, pendingMsg string) turn.CrisisLevel {
	switch {
	case matchesReply(st.UserMessage, s.pack.AffirmKeywords):
		return turn.Crisis
	case matchesReply(st.UserMessage, s.pack.DenyKeywords):
		return turn.CrisisSafe
	}

	user := ports.Message{
		Role:    ports.RoleUser,
		Content: fmt.Sprintf("이전 발언: %s\n확인 질문에 대한 답: %s", pendingMsg, st.UserMessage),
	}
	raw, err := s.classify.Generate(ctx, s.pack.ConfirmClassifier, nil, user)
	if err != nil {
		slog.Warn("Confirmation classification failed, defaulting to safe", "session_id", st.SessionID, "error", err)
		return turn.CrisisSafe
	}
	// The confirmation protocol has no unclear path: it is crisis or safe.
	if turn.NormalizeCrisisLevel(raw) == turn.Crisis {
		return turn.Crisis
	}
	return turn.CrisisSafe
}

func (s *Stages) classifySafety(ctx context.Context, st *turn.State) (turn.CrisisLevel, error) {
	history := make([]ports.Message, 0, 3)
	for _, m := range st.RecentHistory(3) {
		history = append(history, ports.Message{Role: m.Role, Content: m.Content})
	}
	raw, err := s.classify.Generate(ctx, s.pack.CrisisClassifier, history, ports.Message{
		Role:    ports.RoleUser,
		Content: st.UserMessage,
	})
	if err != nil {
		return turn.CrisisSafe, err
	}
	return turn.NormalizeCrisisLevel(raw), nil
}

// RouteSafety selects the branch out of the safety check.
func RouteSafety(st *turn.State) string {
	switch st.CrisisLevel {
	case turn.Crisis:
		return "crisis"
	case turn.CrisisUnclear:
		return "unclear"
	default:
		return "safe"
	}
}

func containsAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// matchesReply matches short confirmation replies only. The affirmation
// keywords include single particles ("어") that occur inside almost any
// Korean sentence, so substring matching is restricted to terse replies;
// longer free text falls through to the model classifier.
func matchesReply(msg string, keywords []string) bool {
	trimmed := strings.TrimSpace(msg)
	if utf8.RuneCountInString(trimmed) > 6 {
		return false
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(trimmed, kw) {
			return true
		}
	}
	return false
}
