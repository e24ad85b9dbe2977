package workflow

import (
	"fmt"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Guard restricts transitions while a mode is active. In tutorial mode only
// the single step named by Rule is legal.
type Guard struct {
	Rule ir.TutorialRule
}

// Check returns nil when mode imposes no restriction on intent. Otherwise it
// returns a TransitionError with ErrCodeWrongDirection.
func (g Guard) Check(mode ir.Mode, intent ir.TransitionIntent) error {
	if !mode.Tutorial {
		return nil
	}
	if g.Allows(intent) {
		return nil
	}
	return &TransitionError{
		Code:      ErrCodeWrongDirection,
		Message:   fmt.Sprintf("tutorial allows only %s %s -> %s", g.Rule.Kind, g.Rule.From, g.Rule.To),
		Ref:       intent.Ref,
		From:      intent.From,
		To:        intent.To,
		Direction: intent.Direction,
	}
}

// Allows reports whether intent is the tutorial step.
func (g Guard) Allows(intent ir.TransitionIntent) bool {
	if g.Rule.Kind == "" || intent.From == nil || intent.To == nil {
		return false
	}
	return intent.Ref.Kind == g.Rule.Kind &&
		intent.Direction == ir.DirectionAdvance &&
		intent.From.String() == g.Rule.From &&
		intent.To.String() == g.Rule.To
}
