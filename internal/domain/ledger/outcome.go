package ledger

import "errors"

const (
	MsgMarkedTreated  = "patient marked as treated"
	MsgStillInDebt    = "patient still has outstanding debt"
	MsgAlreadyTreated = "patient is already treated"
)

// Outcome describes the result of a mark-treated request. A rejected request
// is not an error for the caller; it carries Accepted=false and a message.
type Outcome struct {
	Accepted bool   `json:"accepted"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
}

// TreatOutcome runs MarkTreated and turns the result into an Outcome.
func TreatOutcome(current Status) Outcome {
	next, err := MarkTreated(current)
	if err == nil {
		return Outcome{Accepted: true, Status: next, Message: MsgMarkedTreated}
	}
	msg := MsgStillInDebt
	if errors.Is(err, ErrInvalidTransition) && current == StatusTreated {
		msg = MsgAlreadyTreated
	}
	return Outcome{Accepted: false, Status: current, Message: msg}
}
