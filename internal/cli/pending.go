package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

// PendingEntity is one dirty entity.
type PendingEntity struct {
	Ref     string `json:"ref"`
	Status  string `json:"status,omitempty"`
	Rev     int64  `json:"rev"`
	Deleted bool   `json:"deleted,omitempty"`
	Local   bool   `json:"local,omitempty"` // never created remotely
	Hash    string `json:"payload_hash"`
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List local changes not yet confirmed by the backend",
		Long: `List every entity in the local store with an unsynced change, ordered by
kind then id. Tombstones of deletes that have not reached the backend are
included.

Exit codes:
  0 - Success
  2 - Command error (bad config, unreadable database)

Examples:
  opsync pending
  opsync pending --db ./opsync.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runPending(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	pending := []PendingEntity{}
	err = env.store.View(ctx, func(r store.Reader) error {
		refs, err := r.Dirty(ctx)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			e, err := r.Get(ctx, ref)
			if err != nil {
				return err
			}
			hash, err := ir.PayloadHash(e)
			if err != nil {
				return err
			}
			p := PendingEntity{
				Ref:     ref.String(),
				Hash:    hash,
				Rev:     e.Meta().Rev,
				Deleted: e.Meta().Deleted,
				Local:   ir.IsLocalID(ref.ID),
			}
			if s, ok := ir.StatusOf(e); ok {
				p.Status = s.String()
			}
			pending = append(pending, p)
		}
		return nil
	})
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "failed to read pending changes", err)
	}

	return out.Success(pending, func(w io.Writer) {
		if len(pending) == 0 {
			fmt.Fprintln(w, "Nothing pending.")
			return
		}
		for _, p := range pending {
			line := fmt.Sprintf("%s rev=%d payload=%.12s", p.Ref, p.Rev, p.Hash)
			if p.Status != "" {
				line += " status=" + p.Status
			}
			if p.Deleted {
				line += " deleted"
			}
			if p.Local {
				line += " local"
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "\n%d pending\n", len(pending))
	})
}
