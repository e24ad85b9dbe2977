package ir

// WorkflowSet is a compiled set of status workflows and cascade rules.
type WorkflowSet struct {
	Workflows map[EntityKind]WorkflowSpec `json:"workflows"`
	Cascades  []CascadeRule               `json:"cascades"`
	Tutorial  TutorialRule                `json:"tutorial"`
}

// WorkflowSpec describes the status order of one entity kind.
type WorkflowSpec struct {
	Kind EntityKind `json:"kind"`

	// Order is the linear forward/backward sequence.
	Order []string `json:"order"`

	// Branches are explicit terminal steps past the end of Order
	// (e.g. completed -> closed). They are never derived as "last + 1".
	Branches []Branch `json:"branches"`

	// Exit is the out-of-band terminal reached through the archive zone.
	Exit *Exit `json:"exit,omitempty"`

	// RetreatDeny lists roles that may not move an entity backwards.
	RetreatDeny []Role `json:"retreat_deny,omitempty"`
}

// Branch is a special-cased terminal transition.
type Branch struct {
	From string `json:"from"`
	To   string `json:"to"`
	Deny []Role `json:"deny,omitempty"`
}

// Exit is reachable from any non-terminal state through a dedicated zone.
type Exit struct {
	To   string `json:"to"`
	Deny []Role `json:"deny,omitempty"`
}

// TutorialRule is the single transition allowed in tutorial mode.
type TutorialRule struct {
	Kind EntityKind `json:"kind"`
	From string     `json:"from"`
	To   string     `json:"to"`
}

// CascadeRule propagates a parent status change to its children.
type CascadeRule struct {
	ID   string      `json:"id"`
	When CascadeWhen `json:"when"`
	Then CascadeThen `json:"then"`
}

// CascadeWhen matches the parent entity kind and the status it moved to.
type CascadeWhen struct {
	Kind     EntityKind `json:"kind"`
	Statuses []string   `json:"statuses"`
}

// CascadeThen selects children and the status to give them.
//
// Only restricts the rule to children currently in one of the listed
// statuses; Except skips children in any of the listed statuses. Both empty
// means every child.
type CascadeThen struct {
	Kind   EntityKind `json:"kind"`
	Only   []string   `json:"only,omitempty"`
	Except []string   `json:"except,omitempty"`
	To     string     `json:"to"`
}

// Applies reports whether the rule selects a child in status s.
func (t CascadeThen) Applies(s string) bool {
	if s == t.To {
		return false
	}
	for _, e := range t.Except {
		if e == s {
			return false
		}
	}
	if len(t.Only) == 0 {
		return true
	}
	for _, o := range t.Only {
		if o == s {
			return true
		}
	}
	return false
}

// Denies reports whether role appears in roles.
func Denies(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
