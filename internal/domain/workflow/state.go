package workflow

// State represents an invoice status in the approval lifecycle.
type State string

const (
	StateProcessing       State = "processing"
	StateNeedsReview      State = "needs_review"
	StateAwaitingApproval State = "awaiting_approval"
	StateApproved         State = "approved"
	StateRejected         State = "rejected"
	StateDeleted          State = "deleted"
)

var validStates = map[State]bool{
	StateProcessing:       true,
	StateNeedsReview:      true,
	StateAwaitingApproval: true,
	StateApproved:         true,
	StateRejected:         true,
	StateDeleted:          true,
}

var terminalStates = map[State]bool{
	StateApproved: true,
	StateRejected: true,
	StateDeleted:  true,
}

// IsTerminal returns true if the state admits no further transitions.
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsEditable returns true if invoice header fields may still be mutated.
func (s State) IsEditable() bool {
	return s == StateProcessing || s == StateNeedsReview
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a defined invoice status.
func (s State) IsValid() bool {
	return validStates[s]
}
