package domain

// ScoreBreakdown holds the five reality-score sub-scores, each 0..20.
// Higher means stronger reality avoidance.
type ScoreBreakdown struct {
	GoalRealism       int `json:"goal_realism"`
	EffortSpecificity int `json:"effort_specificity"`
	ExternalBlame     int `json:"external_blame"`
	InfoSeeking       int `json:"info_seeking"`
	TimeUrgency       int `json:"time_urgency"`
}

// Sum returns the total across all five sub-scores.
func (b ScoreBreakdown) Sum() int {
	return b.GoalRealism + b.EffortSpecificity + b.ExternalBlame + b.InfoSeeking + b.TimeUrgency
}

// RealityScore is the full scoring result for one answered turn.
type RealityScore struct {
	Total     int            `json:"total"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Summary   string         `json:"summary"`
}

// ShareCard is the shareable summary derived from a reality score.
type ShareCard struct {
	Summary string   `json:"summary"`
	Score   int      `json:"score"`
	Actions []string `json:"actions"`
}
