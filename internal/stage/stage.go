// Package stage implements the stage functions of the turn graph and wires
// them into the orchestration graph. Each stage reads a subset of the turn
// state and writes only the derived fields it owns; capability-port failures
// degrade to explanatory sentinel values so the turn always reaches answer
// generation.
package stage

import (
	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/prompts"
	"github.com/grogi/agent-server/internal/score"
	"github.com/grogi/agent-server/internal/session"
)

// Config holds the collaborators the stages depend on.
type Config struct {
	// Generator answers the heavy prompts: grounding, generation, critique.
	Generator ports.TextGenerator
	// Classifier answers the cheap classification prompts (safety, category,
	// language, query planning). May be the same client as Generator.
	Classifier ports.TextGenerator
	Searcher   ports.WebSearcher
	Extractor  ports.DocumentExtractor
	Sessions   *session.Store
	Pack       *prompts.Pack
	Scorer     *score.Calculator
	// SearchRegion is passed to the search port; empty means adapter default.
	SearchRegion string
}

// Stages bundles all stage functions for one process. It is stateless per
// turn; all per-turn data lives in the turn state and the session store.
type Stages struct {
	gen      ports.TextGenerator
	classify ports.TextGenerator
	search   ports.WebSearcher
	extract  ports.DocumentExtractor
	sessions *session.Store
	pack     *prompts.Pack
	scorer   *score.Calculator
	region   string
}

// New creates the stage set.
func New(cfg Config) *Stages {
	classify := cfg.Classifier
	if classify == nil {
		classify = cfg.Generator
	}
	return &Stages{
		gen:      cfg.Generator,
		classify: classify,
		search:   cfg.Searcher,
		extract:  cfg.Extractor,
		sessions: cfg.Sessions,
		pack:     cfg.Pack,
		scorer:   cfg.Scorer,
		region:   cfg.SearchRegion,
	}
}
