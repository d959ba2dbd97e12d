package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grogi/agent-server/internal/ports"
	"github.com/grogi/agent-server/internal/turn"
)

// PlanSearch extracts a search query from the message and recent history.
// The NONE sentinel (or a planner failure) leaves the query empty, which
// skips searching entirely for this turn.
func (s *Stages) PlanSearch(ctx context.Context, st *turn.State) error {
	history := make([]ports.Message, 0, 3)
	for _, m := range st.RecentHistory(3) {
		history = append(history, ports.Message{Role: m.Role, Content: m.Content})
	}
	raw, err := s.classify.Generate(ctx, s.pack.QueryPlanner, history, ports.Message{
		Role:    ports.RoleUser,
		Content: st.UserMessage,
	})
	if err != nil {
		slog.Warn("Query planning failed, skipping search", "session_id", st.SessionID, "error", err)
		return nil
	}

	query := strings.TrimSpace(raw)
	if query == "" || strings.EqualFold(query, turn.NoSearch) {
		return nil
	}
	st.SearchQuery = query
	st.SearchQueryHistory = append(st.SearchQueryHistory, query)
	return nil
}

// WebSearch runs the current query against the search port. An empty result
// set leaves the findings empty so the routing predicate can decide whether
// to rewrite; a transport failure becomes an explanatory string and the turn
// proceeds with degraded grounding.
func (s *Stages) WebSearch(ctx context.Context, st *turn.State) error {
	if st.SearchQuery == "" {
		return nil
	}

	findings, err := s.search.Search(ctx, st.SearchQuery, s.region)
	switch {
	case errors.Is(err, ports.ErrNoResults):
		st.SearchFindings = ""
		return nil
	case err != nil:
		st.SearchFindings = fmt.Sprintf("검색 중 오류 발생: %v", err)
		return fmt.Errorf("web search failed: %w", err)
	}
	st.SearchFindings = findings
	return nil
}

// RewriteQuery asks the model for a fresh query after a poor result,
// considering translation into a second language, and increments the
// attempt counter that bounds the cycle.
func (s *Stages) RewriteQuery(ctx context.Context, st *turn.State) error {
	st.SearchAttempts++

	prompt := fmt.Sprintf("%s\n\n이전 시도:\n- %s", s.pack.QueryRewriter, strings.Join(st.SearchQueryHistory, "\n- "))
	raw, err := s.classify.Generate(ctx, prompt, nil, ports.Message{
		Role:    ports.RoleUser,
		Content: st.UserMessage,
	})
	if err != nil {
		// Keep the previous query; the next search simply retries it.
		slog.Warn("Query rewrite failed, retrying previous query", "session_id", st.SessionID, "error", err)
		return nil
	}
	if query := strings.TrimSpace(raw); query != "" {
		st.SearchQuery = query
		st.SearchQueryHistory = append(st.SearchQueryHistory, query)
	}
	return nil
}

// RouteSearch decides whether the search cycle rewrites and retries, or
// exits toward answer generation. Empty findings with a live query and
// attempts below the ceiling retry; everything else continues, including
// turns that never planned a search.
func RouteSearch(st *turn.State) string {
	if st.SearchQuery != "" && st.SearchFindings == "" && st.SearchAttempts < turn.MaxSearchAttempts {
		return "rewrite"
	}
	return "continue"
}
