package ir

import "fmt"

// TransitionIntent is a proposed status change produced by a gesture or an
// explicit action. It is not validated until it passes the status graph and
// the mode guard.
type TransitionIntent struct {
	Ref       EntityRef
	From      TransitionTarget
	To        TransitionTarget
	Direction Direction
}

// String renders the intent for logs and traces.
func (i TransitionIntent) String() string {
	return fmt.Sprintf("%s %s: %v -> %v", i.Ref, i.Direction, i.From, i.To)
}
