package compiler

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

//go:embed schema.cue
var schemaSource []byte

//go:embed workflows.cue
var defaultSource []byte

// DefaultFilename is the name reported in positions for the embedded workflows.
const DefaultFilename = "workflows.cue"

// Compile unifies src with the workflow schema, compiles it into a
// WorkflowSet and validates the result.
//
// CUE errors are returned as *CompileError. Semantic problems are returned as
// ValidationErrors holding every error found.
func Compile(filename string, src []byte) (*ir.WorkflowSet, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", formatCUEError(err))
	}

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	set, err := CompileWorkflows(v)
	if err != nil {
		return nil, err
	}
	if errs := Validate(set); len(errs) > 0 {
		return nil, errs
	}
	return set, nil
}

var loadDefault = sync.OnceValues(func() (*ir.WorkflowSet, error) {
	return Compile(DefaultFilename, defaultSource)
})

// Default returns the embedded workflow definitions. The result is compiled
// once and shared; callers must not modify it.
func Default() (*ir.WorkflowSet, error) {
	return loadDefault()
}

// MustDefault is like Default but panics if the embedded definitions are
// broken, which is a build defect.
func MustDefault() *ir.WorkflowSet {
	set, err := Default()
	if err != nil {
		panic(fmt.Sprintf("compiler: embedded workflows: %v", err))
	}
	return set
}

// CompileWorkflows parses an already-validated CUE value into a WorkflowSet.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value should be the top-level config struct, e.g.:
//
//	v := ctx.CompileString(`workflow: task: { order: ["booked", "completed"] }`)
//	set, err := CompileWorkflows(v)
func CompileWorkflows(v cue.Value) (*ir.WorkflowSet, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	set := &ir.WorkflowSet{Workflows: make(map[ir.EntityKind]ir.WorkflowSpec)}

	wfVal := v.LookupPath(cue.ParsePath("workflow"))
	if !wfVal.Exists() {
		return nil, &CompileError{
			Field:   "workflow",
			Message: "workflow is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := wfVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		kind := ir.EntityKind(iter.Selector().String())
		spec, err := parseWorkflow(kind, iter.Value())
		if err != nil {
			return nil, err
		}
		set.Workflows[kind] = spec
	}

	tutVal := v.LookupPath(cue.ParsePath("tutorial"))
	if tutVal.Exists() {
		set.Tutorial.Kind = ir.EntityKind(lookupString(tutVal, "kind"))
		set.Tutorial.From = lookupString(tutVal, "from")
		set.Tutorial.To = lookupString(tutVal, "to")
	}

	cascades, err := parseCascades(v.LookupPath(cue.ParsePath("cascade")))
	if err != nil {
		return nil, err
	}
	set.Cascades = cascades

	return set, nil
}

func parseWorkflow(kind ir.EntityKind, v cue.Value) (ir.WorkflowSpec, error) {
	spec := ir.WorkflowSpec{Kind: kind}

	order, err := stringList(v.LookupPath(cue.ParsePath("order")))
	if err != nil {
		return spec, err
	}
	spec.Order = order

	branches := resolved(v.LookupPath(cue.ParsePath("branches")))
	if branches.Exists() {
		list, err := branches.List()
		if err != nil {
			return spec, formatCUEError(err)
		}
		for list.Next() {
			b := list.Value()
			deny, err := roleList(b.LookupPath(cue.ParsePath("deny")))
			if err != nil {
				return spec, err
			}
			spec.Branches = append(spec.Branches, ir.Branch{
				From: lookupString(b, "from"),
				To:   lookupString(b, "to"),
				Deny: deny,
			})
		}
	}

	exitVal := v.LookupPath(cue.ParsePath("exit"))
	if exitVal.Exists() {
		deny, err := roleList(exitVal.LookupPath(cue.ParsePath("deny")))
		if err != nil {
			return spec, err
		}
		spec.Exit = &ir.Exit{To: lookupString(exitVal, "to"), Deny: deny}
	}

	spec.RetreatDeny, err = roleList(v.LookupPath(cue.ParsePath("retreat_deny")))
	if err != nil {
		return spec, err
	}
	return spec, nil
}

func parseCascades(v cue.Value) ([]ir.CascadeRule, error) {
	v = resolved(v)
	if !v.Exists() {
		return nil, nil
	}
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rules []ir.CascadeRule
	for list.Next() {
		c := list.Value()
		when := c.LookupPath(cue.ParsePath("when"))
		then := c.LookupPath(cue.ParsePath("then"))

		statuses, err := stringList(when.LookupPath(cue.ParsePath("statuses")))
		if err != nil {
			return nil, err
		}
		only, err := stringList(then.LookupPath(cue.ParsePath("only")))
		if err != nil {
			return nil, err
		}
		except, err := stringList(then.LookupPath(cue.ParsePath("except")))
		if err != nil {
			return nil, err
		}

		rules = append(rules, ir.CascadeRule{
			ID: lookupString(c, "id"),
			When: ir.CascadeWhen{
				Kind:     ir.EntityKind(lookupString(when, "kind")),
				Statuses: statuses,
			},
			Then: ir.CascadeThen{
				Kind:   ir.EntityKind(lookupString(then, "kind")),
				Only:   only,
				Except: except,
				To:     lookupString(then, "to"),
			},
		})
	}
	return rules, nil
}

// resolved selects the default of a disjunction such as `[...string] | *[]`.
func resolved(v cue.Value) cue.Value {
	if d, ok := v.Default(); ok {
		return d
	}
	return v
}

func lookupString(v cue.Value, field string) string {
	s, _ := v.LookupPath(cue.ParsePath(field)).String()
	return s
}

func stringList(v cue.Value) ([]string, error) {
	v = resolved(v)
	if !v.Exists() {
		return nil, nil
	}
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func roleList(v cue.Value) ([]ir.Role, error) {
	names, err := stringList(v)
	if err != nil {
		return nil, err
	}
	var roles []ir.Role
	for _, n := range names {
		roles = append(roles, ir.Role(n))
	}
	return roles, nil
}
