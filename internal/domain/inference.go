package domain

// CategoryGuess is a classification of a free-text question onto the
// policy taxonomy. An empty Category means no confident match.
type CategoryGuess struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	RiskLevel   string  `json:"risk_level"`
	Confidence  float64 `json:"confidence"`
}
