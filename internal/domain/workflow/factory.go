package workflow

// BuildInvoiceStateMachine creates a state machine configured for the invoice
// approval lifecycle, positioned at the given status.
func BuildInvoiceStateMachine(initialState State) StateMachine {
	builder := NewBuilder()

	// processing: extraction/validation still running. Only deletable.
	builder.Configure(StateProcessing).
		Permit(TriggerDelete, StateDeleted)

	// needs_review: low confidence or failed arithmetic. A clerk fixes the
	// record and pushes it to the approval queue.
	builder.Configure(StateNeedsReview).
		Permit(TriggerSubmit, StateAwaitingApproval).
		Permit(TriggerDelete, StateDeleted)

	// awaiting_approval: a manager decides.
	builder.Configure(StateAwaitingApproval).
		Permit(TriggerApprove, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerDelete, StateDeleted)

	// Soft delete is an admin action and is allowed even after a decision;
	// deleted itself has no outgoing transitions.
	builder.Configure(StateApproved).
		Permit(TriggerDelete, StateDeleted)
	builder.Configure(StateRejected).
		Permit(TriggerDelete, StateDeleted)

	return builder.Build(initialState)
}
