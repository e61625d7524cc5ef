package reasoning

// Strategy names understood by the router and registry.
const (
	StrategyChainOfThought     = "chain_of_thought"
	StrategySelfConsistency    = "self_consistency"
	StrategyTreeOfThought      = "tree_of_thought"
	StrategyRetrievalAugmented = "retrieval_augmented"
)

var knownStrategies = []string{
	StrategyChainOfThought,
	StrategySelfConsistency,
	StrategyTreeOfThought,
	StrategyRetrievalAugmented,
}

// KnownStrategies returns the finite set of strategy names.
func KnownStrategies() []string {
	return append([]string(nil), knownStrategies...)
}

// IsKnownStrategy reports whether name is one of KnownStrategies.
func IsKnownStrategy(name string) bool {
	for _, s := range knownStrategies {
		if s == name {
			return true
		}
	}
	return false
}

// ReasoningResult is the output of one Reason call. It is built once and
// handed to the caller; strategies never touch it after returning.
type ReasoningResult struct {
	Answer string `json:"answer"`
	// Confidence is a self-assessed score in [0, 1], not a calibrated probability.
	Confidence   float64  `json:"confidence"`
	Steps        []string `json:"steps"`
	StrategyName string   `json:"strategy_name"`
	// TokenCount sums usage across every model call of the invocation; 0 when
	// the model reports no usage.
	TokenCount     int              `json:"token_count,omitempty"`
	ReasoningChain []map[string]any `json:"reasoning_chain,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
}
