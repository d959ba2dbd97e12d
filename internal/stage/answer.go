package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grogi/agent-server/internal/domain"
	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/stream"
	"github.com/grogi/agent-server/internal/turn"
)

const generationFallback = "지금 응답 생성에 문제가 생겼어. 잠시 후 다시 시도해."

// GenerateAnswer produces the draft (or refined) answer, streaming tokens
// through the sink carried in the context when one is present. Retry passes
// overwrite the previous draft.
func (s *Stages) GenerateAnswer(ctx context.Context, st *turn.State) error {
	system := s.buildAnswerPrompt(st)

	history := make([]ports.Message, 0, len(st.History))
	for _, m := range st.History {
		// Caller-supplied history may carry arbitrary role strings; the model
		// wire only knows the two.
		role := ports.RoleUser
		if m.Role == ports.RoleAssistant {
			role = ports.RoleAssistant
		}
		history = append(history, ports.Message{Role: role, Content: m.Content})
	}

	user := ports.Message{
		Role:    ports.RoleUser,
		Content: st.UserMessage,
		Images:  append(append([]string{}, st.Images...), st.DocumentPageImages...),
	}

	var answer string
	var err error
	if sink := stream.TokenSinkFromContext(ctx); sink != nil {
		answer, err = s.gen.GenerateStream(ctx, system, history, user, func(chunk string) error {
			sink(chunk)
			return nil
		})
	} else {
		answer, err = s.gen.Generate(ctx, system, history, user)
	}
	if err != nil {
		if answer == "" {
			answer = generationFallback
		}
		st.AnswerText = answer
		return fmt.Errorf("answer generation failed: %w", err)
	}
	st.AnswerText = answer
	return nil
}

// buildAnswerPrompt assembles the persona prompt plus the grounding gathered
// by the fan-out stages, and any refinement guidance from a failed critique.
func (s *Stages) buildAnswerPrompt(st *turn.State) string {
	var b strings.Builder
	b.WriteString(s.pack.SystemBase)
	b.WriteString("\n")
	b.WriteString(s.pack.SpicyLevel)
	b.WriteString("\n")

	fmt.Fprintf(&b, "\n[현재 상황]\n카테고리: %s\n사용자 언어: %s\n", st.Category, st.DetectedLanguage)
	if st.SearchFindings != "" {
		fmt.Fprintf(&b, "실시간 정보: %s\n", st.SearchFindings)
	}
	if st.ImageAnalysis != "" {
		fmt.Fprintf(&b, "이미지 분석(팩트): %s\n", st.ImageAnalysis)
	}
	if st.DocumentText != "" {
		fmt.Fprintf(&b, "문서 내용: %s\n", st.DocumentText)
	}

	b.WriteString("\n")
	b.WriteString(s.pack.ResponseRules)

	if st.RefineGuidance != "" {
		fmt.Fprintf(&b, "\n[수정 지침]\n이전 답변이 검수에서 반려되었다. 다음 지적을 반영하여 다시 작성할 것: %s\n", st.RefineGuidance)
	}
	return b.String()
}

// CritiqueAnswer inspects the draft against the critique rubric. Once the
// retry ceiling is reached the result is forced to PASS without a model
// call, guaranteeing the correction loop terminates.
func (s *Stages) CritiqueAnswer(ctx context.Context, st *turn.State) error {
	if st.AnswerRetryCount >= turn.MaxAnswerRetries {
		st.AnswerCritique = turn.CritiquePass
		return nil
	}

	user := ports.Message{
		Role:    ports.RoleUser,
		Content: fmt.Sprintf("사용자 메시지: %s\n\nAI 답변 초안:\n%s", st.UserMessage, st.AnswerText),
	}
	raw, err := s.classify.Generate(ctx, s.pack.CritiqueRubric, nil, user)
	if err != nil {
		// An unavailable critic accepts the draft rather than blocking it.
		slog.Warn("Answer critique failed, accepting draft", "session_id", st.SessionID, "error", err)
		st.AnswerCritique = turn.CritiquePass
		return nil
	}
	st.AnswerCritique = normalizeCritique(raw)
	return nil
}

// normalizeCritique collapses model output into the PASS sentinel or a short
// critique. A verdict that merely mentions PASS in its first line counts as
// acceptance.
func normalizeCritique(raw string) string {
	trimmed := strings.TrimSpace(raw)
	firstLine := trimmed
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	if strings.Contains(strings.ToUpper(firstLine), turn.CritiquePass) {
		return turn.CritiquePass
	}
	if trimmed == "" {
		return turn.CritiquePass
	}
	return trimmed
}

// RefineAnswer carries the critique forward as generation guidance and
// increments the retry counter before the cycle re-enters generation.
func (s *Stages) RefineAnswer(_ context.Context, st *turn.State) error {
	st.AnswerRetryCount++
	st.RefineGuidance = st.AnswerCritique
	return nil
}

// RouteCritique exits the correction loop on PASS or an exhausted retry
// budget.
func RouteCritique(st *turn.State) string {
	if st.AnswerCritique != turn.CritiquePass && st.AnswerRetryCount < turn.MaxAnswerRetries {
		return "refine"
	}
	return "pass"
}

// CalculateScore computes the reality score and derives the share card.
// Scoring never fails the turn; degraded scoring yields the neutral
// fallback.
func (s *Stages) CalculateScore(ctx context.Context, st *turn.State) error {
	result, err := s.scorer.Calculate(ctx, st.UserMessage, st.AnswerText)
	if err != nil {
		slog.Warn("Score calculation degraded to fallback", "session_id", st.SessionID, "error", err)
	}
	st.Score = result
	st.ShareCard = &domain.ShareCard{
		Summary: result.Summary,
		Score:   result.Total,
		Actions: s.pack.ShareCardActions,
	}
	return nil
}
