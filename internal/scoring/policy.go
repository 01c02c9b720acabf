package scoring

// FailureAction is what the orchestrator does when a component scorer
// fails after its retries are exhausted.
type FailureAction string

const (
	// FailurePropagate fails the whole scoring request.
	FailurePropagate FailureAction = "propagate"
	// FailureDefaultZero substitutes a neutral 0 for the component.
	FailureDefaultZero FailureAction = "default_zero"
)

// ComponentPolicy is the per-scorer failure contract.
type ComponentPolicy struct {
	Retry     bool
	OnFailure FailureAction
}

const (
	ComponentSentiment  = "sentiment"
	ComponentValue      = "value"
	ComponentUniqueness = "uniqueness"
)

// Policies is the failure policy per component. The value scorer is the
// only one that retries and falls back to a neutral 0; sentiment and
// uniqueness failures fail the whole request.
var Policies = map[string]ComponentPolicy{
	ComponentSentiment:  {Retry: false, OnFailure: FailurePropagate},
	ComponentValue:      {Retry: true, OnFailure: FailureDefaultZero},
	ComponentUniqueness: {Retry: false, OnFailure: FailurePropagate},
}
