package pipeline

// State is a document's lifecycle position. The graph is fixed; there are no
// user-defined workflows.
type State string

const (
	StateIngested     State = "INGESTED"
	StateHilRequired  State = "HIL_REQUIRED"
	StateHilConfirmed State = "HIL_CONFIRMED"
	StateFetchPending State = "FETCH_PENDING"
	StateFetched      State = "FETCHED"
	StateReconciled   State = "RECONCILED"
	StateApproved     State = "APPROVED"
	StateRejected     State = "REJECTED"
	StateFailed       State = "FAILED"
)

// legalTransitions lists every edge the machine accepts. Terminal states have
// no outgoing edges.
var legalTransitions = map[State][]State{
	StateIngested:     {StateHilRequired, StateFailed},
	StateHilRequired:  {StateHilConfirmed, StateFailed},
	StateHilConfirmed: {StateFetchPending, StateFetched, StateFailed},
	StateFetchPending: {StateFetched, StateFailed},
	StateFetched:      {StateReconciled, StateFailed},
	StateReconciled:   {StateApproved, StateRejected, StateFailed},
}

// CanTransition reports whether the from-to pair is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state accepts no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateApproved, StateRejected, StateFailed:
		return true
	}
	return false
}

// Display renders the state for API responses. RECONCILED is surfaced to
// reviewers as FINAL_REVIEW; every other state renders as itself.
func (s State) Display() string {
	if s == StateReconciled {
		return "FINAL_REVIEW"
	}
	return string(s)
}

func (s State) in(set ...State) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
