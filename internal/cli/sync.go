package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackson-sweet/opsapp-sub000/internal/config"
	"github.com/jackson-sweet/opsapp-sub000/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Remote string
	Passes int
	Watch  bool
}

// SyncResult is the JSON output of a one-shot sync.
type SyncResult struct {
	Stats   engine.PassStats `json:"stats"`
	Pending int              `json:"pending"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending local changes to the backend",
		Long: `Run background sync passes over the retry queue and the dirty set.

By default passes run until one confirms nothing new (at most --passes).
With --watch the background loop keeps running, retrying on its interval,
until interrupted; a final pass runs on shutdown.

Exit codes:
  0 - Passes completed (changes left queued for retry are not an error)
  1 - The backend rejected one or more changes
  2 - Command error (bad config, unreadable database)

Examples:
  opsync sync
  opsync sync --remote http://localhost:8087
  opsync sync --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", "", "backend URL, overrides the config")
	cmd.Flags().IntVar(&opts.Passes, "passes", 5, "maximum passes in one-shot mode")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep syncing until interrupted")

	return cmd
}

func runSync(ctx context.Context, opts *SyncOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	env, err := openEnv(opts.RootOptions, cmd, func(c *config.Config) {
		if opts.Remote != "" {
			c.RemoteURL = opts.Remote
		}
	})
	if err != nil {
		return err
	}
	defer env.Close()

	if env.cfg.RemoteURL == "" {
		env.logger.Warn("no remote configured, changes stay queued")
	}
	bg := env.background()

	if opts.Watch {
		return watchSync(ctx, env, bg)
	}

	stats, err := bg.RunUntilIdle(ctx, opts.Passes)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeSync, "sync pass failed", err)
	}
	pending, err := env.engine.Pending(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "failed to read pending changes", err)
	}

	result := SyncResult{Stats: stats, Pending: len(pending)}
	if err := out.Success(result, func(w io.Writer) { printSyncResult(w, result) }); err != nil {
		return err
	}
	if stats.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d change(s) rejected by the backend", stats.Rejected))
	}
	return nil
}

// watchSync runs the background loop until SIGINT or SIGTERM, then stops
// it with a bounded final pass.
func watchSync(ctx context.Context, env *env, bg *engine.Background) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bg.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start background sync", err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*env.cfg.Sync.Timeout+5*time.Second)
	defer cancel()
	if err := bg.Stop(stopCtx); err != nil {
		return WrapExitError(ExitCommandError, "background sync did not stop cleanly", err)
	}
	return nil
}

func printSyncResult(w io.Writer, r SyncResult) {
	s := r.Stats
	if s.Offline {
		fmt.Fprintln(w, "Offline, nothing attempted.")
	}
	fmt.Fprintf(w, "Attempted: %d\n", s.Attempted)
	fmt.Fprintf(w, "  synced:     %d\n", s.Synced)
	fmt.Fprintf(w, "  superseded: %d\n", s.Superseded)
	fmt.Fprintf(w, "  queued:     %d\n", s.Queued)
	fmt.Fprintf(w, "  rejected:   %d\n", s.Rejected)
	fmt.Fprintf(w, "  deferred:   %d\n", s.Deferred)
	fmt.Fprintf(w, "  skipped:    %d\n", s.Skipped)
	fmt.Fprintf(w, "Pending: %d\n", r.Pending)
}
