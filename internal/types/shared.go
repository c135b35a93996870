package types

// PromotionCandidate is a locally-verified troubleshooting entry offered
// to the Shared Store & Promoter (C6) for cross-project promotion.
type PromotionCandidate struct {
	EntryID      string
	EventType    string // must equal "troubleshooting" to be eligible
	Stage        string // "verified" | "certified" to be eligible
	Status       string // must equal "active" to be eligible
	Confidence   float64
	Title        string
	Symptoms     []string
	RootCause    string
	Solution     string
	Topics       []string
	Technologies []string
}

// PromotionResult reports the outcome of Promoter.Promote.
type PromotionResult struct {
	Entry      SharedTroubleshootingEntry
	Promoted   bool
	SkipReason string // set when Promoted is false
}

// SharedSearchMode selects which of C6's two search modes to use.
type SharedSearchMode string

const (
	SharedSearchText  SharedSearchMode = "text"
	SharedSearchTopic SharedSearchMode = "topic"
)
