package workflow

// Trigger represents a human action that can cause a status transition.
type Trigger string

const (
	TriggerSubmit  Trigger = "submit_for_approval"
	TriggerApprove Trigger = "approve"
	TriggerReject  Trigger = "reject"
	TriggerDelete  Trigger = "delete"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
