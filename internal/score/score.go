// Package score computes the reality-avoidance score for an answered turn.
// The model produces the five sub-scores as JSON; the output is validated
// against an embedded JSON Schema before acceptance, and any failure along
// the way degrades to a deterministic neutral score instead of failing the
// turn.
package score

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/grogi/agent-server/internal/domain"
	"github.com/grogi/agent-server/internal/ports"
)

//go:embed schema.json
var schemaJSON string

var scoreSchema = jsonschema.MustCompileString("score_schema.json", schemaJSON)

const rubric = `사용자의 입력과 AI의 분석 내용을 바탕으로 '현실 회피 지수'를 채점하세요.
각 항목은 0~20점, 기준점은 10점이며 점수가 높을수록 현실 회피가 심합니다.
1점 단위로 세밀하게 가감점하십시오.

1. goal_realism: 목표의 비현실성 (허황된 꿈 +, 실현 가능한 목표 -)
2. effort_specificity: 노력의 추상성 ("열심히 하겠다" +, 숫자가 포함된 계획 -)
3. external_blame: 남탓/환경탓 비중 (전적인 남탓 +, 자기 책임 인정 -)
4. info_seeking: 정보 부족/무지 (근거 없는 낙관 +, 객관적 수치 언급 -)
5. time_urgency: 안일함/나태함 ("내일부터" +, "지금 당장" -)

반드시 아래 형식의 JSON으로만 응답하십시오:
{"goal_realism": 0-20, "effort_specificity": 0-20, "external_blame": 0-20,
 "info_seeking": 0-20, "time_urgency": 0-20, "summary": "점수에 대한 한 줄 평가"}`

type modelScore struct {
	GoalRealism       int    `json:"goal_realism"`
	EffortSpecificity int    `json:"effort_specificity"`
	ExternalBlame     int    `json:"external_blame"`
	InfoSeeking       int    `json:"info_seeking"`
	TimeUrgency       int    `json:"time_urgency"`
	Summary           string `json:"summary"`
}

// Calculator produces reality scores via the text generation port.
type Calculator struct {
	generator       ports.TextGenerator
	fallbackSummary string
}

// NewCalculator creates a calculator. fallbackSummary is used when scoring
// degrades to the neutral default.
func NewCalculator(generator ports.TextGenerator, fallbackSummary string) *Calculator {
	return &Calculator{generator: generator, fallbackSummary: fallbackSummary}
}

// Calculate scores one turn. It never returns an unusable score: model,
// parse, or validation failures all yield the neutral fallback plus the
// causing error for logging.
func (c *Calculator) Calculate(ctx context.Context, userMessage, answer string) (*domain.RealityScore, error) {
	user := ports.Message{
		Role:    ports.RoleUser,
		Content: fmt.Sprintf("사용자 입력: %s\nAI 분석 내용: %s", userMessage, answer),
	}
	raw, err := c.generator.Generate(ctx, rubric, nil, user)
	if err != nil {
		return c.Fallback(), fmt.Errorf("score: generation failed: %w", err)
	}

	parsed, err := Parse(raw)
	if err != nil {
		return c.Fallback(), err
	}
	return parsed, nil
}

// Parse validates raw model output against the score schema and converts it.
// The total is always recomputed from the sub-scores rather than trusted.
func Parse(raw string) (*domain.RealityScore, error) {
	cleaned := stripFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("score: output is not valid JSON: %w", err)
	}
	if err := scoreSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("score: output failed schema validation: %w", err)
	}

	var ms modelScore
	if err := json.Unmarshal([]byte(cleaned), &ms); err != nil {
		return nil, fmt.Errorf("score: failed to decode output: %w", err)
	}

	breakdown := domain.ScoreBreakdown{
		GoalRealism:       ms.GoalRealism,
		EffortSpecificity: ms.EffortSpecificity,
		ExternalBlame:     ms.ExternalBlame,
		InfoSeeking:       ms.InfoSeeking,
		TimeUrgency:       ms.TimeUrgency,
	}
	return &domain.RealityScore{
		Total:     breakdown.Sum(),
		Breakdown: breakdown,
		Summary:   ms.Summary,
	}, nil
}

// Fallback is the neutral score used when scoring fails: all sub-scores at
// the 10-point baseline.
func (c *Calculator) Fallback() *domain.RealityScore {
	breakdown := domain.ScoreBreakdown{
		GoalRealism:       10,
		EffortSpecificity: 10,
		ExternalBlame:     10,
		InfoSeeking:       10,
		TimeUrgency:       10,
	}
	return &domain.RealityScore{
		Total:     breakdown.Sum(),
		Breakdown: breakdown,
		Summary:   c.fallbackSummary,
	}
}

// stripFences removes a surrounding markdown code fence, which chat models
// frequently wrap JSON in despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
