package compiler

import (
	"fmt"
	"slices"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// Validation error codes (E200-E299)
const (
	// Workflow errors (E201-E209)
	ErrMissingWorkflow = "E201" // project and task workflows are required
	ErrEmptyOrder      = "E202" // order must name at least one status
	ErrDuplicateStatus = "E203" // status appears twice in order
	ErrUnknownStatus   = "E204" // status name is not a status of the kind
	ErrBranchSource    = "E205" // branch must leave the last ordered status
	ErrTerminalInOrder = "E206" // branch or exit target is part of the order
	ErrUnknownRole     = "E207" // deny list names an unknown role
	ErrTutorialPair    = "E208" // tutorial must be one forward step
	ErrStatuslessKind  = "E209" // kind has no statuses

	// Cascade errors (E210-E219)
	ErrDuplicateCascadeID = "E210" // cascade ids must be unique
	ErrCascadeKinds       = "E211" // then.kind must be owned by when.kind
	ErrCascadeCycle       = "E212" // cascade rules trigger each other
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled WorkflowSet for semantic errors.
// Returns all errors found (does not fail-fast).
func Validate(set *ir.WorkflowSet) ValidationErrors {
	var errs ValidationErrors

	for _, kind := range []ir.EntityKind{ir.KindProject, ir.KindTask} {
		if _, ok := set.Workflows[kind]; !ok {
			errs = append(errs, ValidationError{
				Field:   "workflow." + string(kind),
				Message: "workflow is required",
				Code:    ErrMissingWorkflow,
			})
		}
	}

	kinds := make([]ir.EntityKind, 0, len(set.Workflows))
	for k := range set.Workflows {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		errs = append(errs, validateWorkflow(k, set.Workflows[k])...)
	}

	errs = append(errs, validateTutorial(set)...)
	errs = append(errs, validateCascades(set.Cascades)...)
	return errs
}

func validateWorkflow(kind ir.EntityKind, spec ir.WorkflowSpec) []ValidationError {
	var errs []ValidationError
	prefix := "workflow." + string(kind)

	if !hasStatuses(kind) {
		return []ValidationError{{
			Field:   prefix,
			Message: fmt.Sprintf("%s has no statuses", kind),
			Code:    ErrStatuslessKind,
		}}
	}

	if len(spec.Order) == 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".order",
			Message: "order must name at least one status",
			Code:    ErrEmptyOrder,
		})
	}

	seen := make(map[string]bool)
	for i, s := range spec.Order {
		field := fmt.Sprintf("%s.order[%d]", prefix, i)
		errs = append(errs, checkStatus(kind, field, s)...)
		if seen[s] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate status %q", s),
				Code:    ErrDuplicateStatus,
			})
		}
		seen[s] = true
	}

	for i, b := range spec.Branches {
		field := fmt.Sprintf("%s.branches[%d]", prefix, i)
		errs = append(errs, checkStatus(kind, field+".from", b.From)...)
		errs = append(errs, checkStatus(kind, field+".to", b.To)...)
		if len(spec.Order) > 0 && b.From != spec.Order[len(spec.Order)-1] {
			errs = append(errs, ValidationError{
				Field:   field + ".from",
				Message: fmt.Sprintf("branch must leave the last ordered status %q, not %q", spec.Order[len(spec.Order)-1], b.From),
				Code:    ErrBranchSource,
			})
		}
		if seen[b.To] {
			errs = append(errs, ValidationError{
				Field:   field + ".to",
				Message: fmt.Sprintf("branch target %q is already part of the order", b.To),
				Code:    ErrTerminalInOrder,
			})
		}
		errs = append(errs, checkRoles(field+".deny", b.Deny)...)
	}

	if spec.Exit != nil {
		field := prefix + ".exit"
		errs = append(errs, checkStatus(kind, field+".to", spec.Exit.To)...)
		terminal := seen[spec.Exit.To]
		for _, b := range spec.Branches {
			terminal = terminal || b.To == spec.Exit.To
		}
		if terminal {
			errs = append(errs, ValidationError{
				Field:   field + ".to",
				Message: fmt.Sprintf("exit target %q must not be reachable by advancing", spec.Exit.To),
				Code:    ErrTerminalInOrder,
			})
		}
		errs = append(errs, checkRoles(field+".deny", spec.Exit.Deny)...)
	}

	errs = append(errs, checkRoles(prefix+".retreat_deny", spec.RetreatDeny)...)
	return errs
}

func validateTutorial(set *ir.WorkflowSet) []ValidationError {
	t := set.Tutorial
	if t.Kind == "" {
		return nil
	}
	spec, ok := set.Workflows[t.Kind]
	if ok {
		for i := 0; i+1 < len(spec.Order); i++ {
			if spec.Order[i] == t.From && spec.Order[i+1] == t.To {
				return nil
			}
		}
	}
	return []ValidationError{{
		Field:   "tutorial",
		Message: fmt.Sprintf("%s %s -> %s is not a single forward step", t.Kind, t.From, t.To),
		Code:    ErrTutorialPair,
	}}
}

func validateCascades(rules []ir.CascadeRule) []ValidationError {
	var errs []ValidationError
	ids := make(map[string]bool)

	for i, r := range rules {
		field := fmt.Sprintf("cascade[%d]", i)
		if ids[r.ID] {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate cascade id %q", r.ID),
				Code:    ErrDuplicateCascadeID,
			})
		}
		ids[r.ID] = true

		if child, ok := ir.ChildKind(r.When.Kind); !ok || child != r.Then.Kind {
			errs = append(errs, ValidationError{
				Field:   field + ".then.kind",
				Message: fmt.Sprintf("%s does not own %s entities", r.When.Kind, r.Then.Kind),
				Code:    ErrCascadeKinds,
			})
		}

		for j, s := range r.When.Statuses {
			errs = append(errs, checkStatus(r.When.Kind, fmt.Sprintf("%s.when.statuses[%d]", field, j), s)...)
		}
		for j, s := range r.Then.Only {
			errs = append(errs, checkStatus(r.Then.Kind, fmt.Sprintf("%s.then.only[%d]", field, j), s)...)
		}
		for j, s := range r.Then.Except {
			errs = append(errs, checkStatus(r.Then.Kind, fmt.Sprintf("%s.then.except[%d]", field, j), s)...)
		}
		errs = append(errs, checkStatus(r.Then.Kind, field+".then.to", r.Then.To)...)
	}

	for _, cycle := range findCascadeCycles(rules) {
		errs = append(errs, ValidationError{
			Field:   "cascade",
			Message: "rules trigger each other: " + cycle.String(),
			Code:    ErrCascadeCycle,
		})
	}
	return errs
}

func hasStatuses(kind ir.EntityKind) bool {
	return kind == ir.KindProject || kind == ir.KindTask
}

func checkStatus(kind ir.EntityKind, field, s string) []ValidationError {
	if !hasStatuses(kind) {
		return nil
	}
	if _, err := ir.ParseTarget(kind, s); err != nil {
		return []ValidationError{{Field: field, Message: err.Error(), Code: ErrUnknownStatus}}
	}
	return nil
}

func checkRoles(field string, roles []ir.Role) []ValidationError {
	var errs []ValidationError
	for i, r := range roles {
		if !ir.ValidRoles[r] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: fmt.Sprintf("unknown role %q", r),
				Code:    ErrUnknownRole,
			})
		}
	}
	return errs
}
