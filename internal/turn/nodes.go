package turn

// Node identifiers for the turn graph. Shared between the stage wiring and
// the event stream adapter, which reacts to lifecycle signals by node.
const (
	NodeSafetyCheck      = "safety_check"
	NodeDetectLanguage   = "detect_language"
	NodeAnalyzeCategory  = "analyze_category"
	NodeAnalyzeImages    = "analyze_images"
	NodeExtractDocuments = "extract_documents"
	NodePlanSearch       = "plan_search"
	NodeWebSearch        = "web_search"
	NodeRewriteQuery     = "rewrite_query"
	NodeGenerateAnswer   = "generate_answer"
	NodeCritiqueAnswer   = "critique_answer"
	NodeRefineAnswer     = "refine_answer"
	NodeCalculateScore   = "calculate_score"
)
