package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		entity string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the sync attempt log",
		Long: `Show recorded remote calls from the local database, oldest first: the
operation, the local revision it carried, the outcome and the error if any.

Exit codes:
  0 - Success
  2 - Command error (in-memory database, bad entity)

Examples:
  opsync trace
  opsync trace --entity project/P1
  opsync trace --limit 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), rootOpts, entity, limit, cmd)
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "only attempts for kind/id")
	cmd.Flags().IntVar(&limit, "limit", 50, "show the most recent N attempts (0 for all)")

	return cmd
}

func runTrace(ctx context.Context, opts *RootOptions, entity string, limit int, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	var ref ir.EntityRef
	if entity != "" {
		r, err := parseRef(entity)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeStore, "invalid entity", err)
		}
		ref = r
	}

	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()
	if env.sqlite == nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "the in-memory store keeps no sync log", nil)
	}

	attempts, err := env.sqlite.Attempts(ctx, ref, limit)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "failed to read sync log", err)
	}
	if attempts == nil {
		attempts = []store.SyncAttempt{}
	}

	return out.Success(attempts, func(w io.Writer) {
		if len(attempts) == 0 {
			fmt.Fprintln(w, "No sync attempts recorded.")
			return
		}
		for _, a := range attempts {
			line := fmt.Sprintf("%4d %s %-6s %s rev=%d %s (%s)",
				a.Seq, a.At.UTC().Format("2006-01-02T15:04:05Z"), a.Op, a.Ref, a.Rev, a.Outcome, a.Duration)
			if a.ServerID != "" && a.ServerID != a.Ref.ID {
				line += " -> " + a.ServerID
			}
			if a.Error != "" {
				line += ": " + a.Error
			}
			fmt.Fprintln(w, line)
		}
	})
}
