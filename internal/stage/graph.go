package stage

import (
	"github.com/grogi/agent-server/internal/graph"
	"github.com/grogi/agent-server/internal/turn"
)

// BuildTurnGraph wires the full turn pipeline: the safety gate, the
// five-way analysis fan-out, the search correction loop, the answer
// critique loop, and scoring.
func BuildTurnGraph(s *Stages) (*graph.Graph, error) {
	g := graph.New()

	g.AddNode(turn.NodeSafetyCheck, s.SafetyCheck)
	g.AddNode(turn.NodeDetectLanguage, s.DetectLanguage)
	g.AddNode(turn.NodeAnalyzeCategory, s.AnalyzeCategory)
	g.AddNode(turn.NodeAnalyzeImages, s.AnalyzeImages)
	g.AddNode(turn.NodeExtractDocuments, s.ExtractDocuments)
	g.AddNode(turn.NodePlanSearch, s.PlanSearch)
	g.AddNode(turn.NodeWebSearch, s.WebSearch)
	g.AddNode(turn.NodeRewriteQuery, s.RewriteQuery)
	g.AddNode(turn.NodeGenerateAnswer, s.GenerateAnswer)
	g.AddNode(turn.NodeCritiqueAnswer, s.CritiqueAnswer)
	g.AddNode(turn.NodeRefineAnswer, s.RefineAnswer)
	g.AddNode(turn.NodeCalculateScore, s.CalculateScore)

	g.SetEntryPoint(turn.NodeSafetyCheck)

	// A crisis or unclear verdict ends the turn immediately. A safe
	// verdict fans out into the four analyses plus search planning.
	g.AddConditionalEdges(turn.NodeSafetyCheck, RouteSafety, map[string][]string{
		"crisis":  {graph.End},
		"unclear": {graph.End},
		"safe": {
			turn.NodeDetectLanguage,
			turn.NodeAnalyzeCategory,
			turn.NodeAnalyzeImages,
			turn.NodeExtractDocuments,
			turn.NodePlanSearch,
		},
	})

	g.AddEdge(turn.NodePlanSearch, turn.NodeWebSearch)
	g.AddConditionalEdges(turn.NodeWebSearch, RouteSearch, map[string][]string{
		"rewrite":  {turn.NodeRewriteQuery},
		"continue": {turn.NodeGenerateAnswer},
	})
	g.AddEdge(turn.NodeRewriteQuery, turn.NodeWebSearch)

	// Answer generation waits for every analysis branch and the search
	// branch before it runs.
	g.AddEdge(turn.NodeDetectLanguage, turn.NodeGenerateAnswer)
	g.AddEdge(turn.NodeAnalyzeCategory, turn.NodeGenerateAnswer)
	g.AddEdge(turn.NodeAnalyzeImages, turn.NodeGenerateAnswer)
	g.AddEdge(turn.NodeExtractDocuments, turn.NodeGenerateAnswer)

	g.AddEdge(turn.NodeGenerateAnswer, turn.NodeCritiqueAnswer)
	g.AddConditionalEdges(turn.NodeCritiqueAnswer, RouteCritique, map[string][]string{
		"refine": {turn.NodeRefineAnswer},
		"pass":   {turn.NodeCalculateScore},
	})
	g.AddEdge(turn.NodeRefineAnswer, turn.NodeGenerateAnswer)

	g.AddEdge(turn.NodeCalculateScore, graph.End)

	if err := g.Compile(); err != nil {
		return nil, err
	}
	return g, nil
}
