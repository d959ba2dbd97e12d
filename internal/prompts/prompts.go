// Package prompts loads the persona and classifier prompt pack embedded with
// the binary. Keeping prompt text, keyword lists, and fixed payloads in one
// YAML document lets them be reviewed and tuned without touching engine code.
package prompts

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/grogi/agent-server/internal/domain"
)

//go:embed default.yaml
var defaultPack []byte

// Pack holds every prompt, keyword list, and fixed payload the stages use.
type Pack struct {
	SystemBase    string `yaml:"system_base"`
	SpicyLevel    string `yaml:"spicy_level"`
	ResponseRules string `yaml:"response_rules"`

	CrisisClassifier   string `yaml:"crisis_classifier"`
	ConfirmClassifier  string `yaml:"confirm_classifier"`
	CategoryClassifier string `yaml:"category_classifier"`
	LanguageDetector   string `yaml:"language_detector"`
	ImageAnalyst       string `yaml:"image_analyst"`
	CritiqueRubric     string `yaml:"critique_rubric"`
	QueryPlanner       string `yaml:"query_planner"`
	QueryRewriter      string `yaml:"query_rewriter"`
	TitleMaker         string `yaml:"title_maker"`

	DangerKeywords []string `yaml:"danger_keywords"`
	AffirmKeywords []string `yaml:"affirm_keywords"`
	DenyKeywords   []string `yaml:"deny_keywords"`

	CrisisMessage  string           `yaml:"crisis_message"`
	CrisisFollowUp string           `yaml:"crisis_follow_up"`
	Hotlines       []domain.Hotline `yaml:"hotlines"`
	UnclearPrompt  string           `yaml:"unclear_prompt"`

	ShareCardActions []string `yaml:"share_card_actions"`
	FallbackSummary  string   `yaml:"fallback_summary"`
}

// Load parses the embedded default pack.
func Load() (*Pack, error) {
	var p Pack
	if err := yaml.Unmarshal(defaultPack, &p); err != nil {
		return nil, fmt.Errorf("prompts: failed to parse embedded pack: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pack) validate() error {
	if p.SystemBase == "" {
		return fmt.Errorf("prompts: system_base is empty")
	}
	if len(p.DangerKeywords) == 0 {
		return fmt.Errorf("prompts: danger_keywords is empty")
	}
	if p.CrisisMessage == "" || len(p.Hotlines) == 0 {
		return fmt.Errorf("prompts: crisis payload is incomplete")
	}
	if p.UnclearPrompt == "" {
		return fmt.Errorf("prompts: unclear_prompt is empty")
	}
	return nil
}

// CrisisPayload assembles the fixed terminal payload for a crisis turn.
func (p *Pack) CrisisPayload() domain.CrisisPayload {
	return domain.CrisisPayload{
		Message:  p.CrisisMessage,
		Hotlines: p.Hotlines,
		FollowUp: p.CrisisFollowUp,
	}
}
