package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jackson-sweet/opsapp-sub000/internal/harness"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

// MoveResult reports a committed transition.
type MoveResult struct {
	Entity  string   `json:"entity"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Touched []string `json:"touched"`
}

// NewMoveCommand creates the move command.
func NewMoveCommand(rootOpts *RootOptions) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "move <kind/id> [advance|retreat|exit]",
		Short: "Change an entity's status locally",
		Long: `Apply a status transition the way a drag on the card would, using the
configured role and tutorial mode. The change is committed to the local
store with its cascades and left dirty for the next sync.

Either give a direction or name the target status with --to.

Exit codes:
  0 - Transition committed
  1 - Transition refused (wrong direction, role, checklist)
  2 - Command error (unknown entity, bad config)

Examples:
  opsync move project/P1 advance
  opsync move task/T1 exit
  opsync move project/P1 --to closed`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ir.DirectionNone
			if len(args) == 2 {
				dir = ir.Direction(args[1])
			}
			return runMove(cmd.Context(), rootOpts, args[0], dir, to, cmd)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "target status")
	return cmd
}

func runMove(ctx context.Context, opts *RootOptions, refArg string, dir ir.Direction, to string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	ref, err := parseRef(refArg)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeTransition, "invalid entity", err)
	}
	switch {
	case to == "" && dir == ir.DirectionNone:
		return out.Fail(ExitCommandError, ErrCodeTransition, "give a direction or --to", nil)
	case to != "" && dir != ir.DirectionNone:
		return out.Fail(ExitCommandError, ErrCodeTransition, "give a direction or --to, not both", nil)
	case to == "" && dir != ir.DirectionAdvance && dir != ir.DirectionRetreat && dir != ir.DirectionExit:
		return out.Fail(ExitCommandError, ErrCodeTransition, fmt.Sprintf("unknown direction %q", dir), nil)
	}

	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	cur, err := store.Load(ctx, env.store, ref)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to load %s", ref), err)
	}
	status, ok := ir.StatusOf(cur)
	if !ok {
		return out.Fail(ExitCommandError, ErrCodeTransition, fmt.Sprintf("%s has no status", ref.Kind), nil)
	}

	intent := ir.TransitionIntent{Ref: ref, From: status, Direction: dir}
	if to != "" {
		target, err := ir.ParseTarget(ref.Kind, to)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeTransition, "invalid target status", err)
		}
		intent.To = target
	} else {
		sess := env.engine.Session()
		intent, err = env.engine.Registry().Resolve(ref, status, dir, sess.Role, sess.Mode)
		if err != nil {
			return out.Fail(ExitFailure, ErrCodeTransition,
				fmt.Sprintf("transition refused (%s)", harness.ErrorCode(err)), err)
		}
	}

	applied, err := env.engine.Transition(ctx, intent)
	if err != nil {
		return out.Fail(ExitFailure, ErrCodeTransition,
			fmt.Sprintf("transition refused (%s)", harness.ErrorCode(err)), err)
	}

	result := MoveResult{Entity: ref.String(), From: status.String(), To: intent.To.String(), Touched: []string{}}
	for _, r := range applied.Touched {
		result.Touched = append(result.Touched, r.String())
	}
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s -> %s\n", result.Entity, result.From, result.To)
		for _, r := range result.Touched {
			if r != result.Entity {
				fmt.Fprintf(w, "  cascade %s\n", r)
			}
		}
	})
}
