package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/remote/fakeserver"
)

// FaultFile is the YAML document read by serve-remote --faults.
type FaultFile struct {
	Faults []fakeserver.Fault `yaml:"faults"`
}

// NewServeRemoteCommand creates the serve-remote command.
func NewServeRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		addr   string
		faults string
		seed   string
	)

	cmd := &cobra.Command{
		Use:   "serve-remote",
		Short: "Run an in-memory backend for local testing",
		Long: `Serve the project/task/calendar event REST API from memory. Creates get
server ids, creates are idempotent per Idempotency-Key, and --faults makes
chosen requests fail or stall so retry behavior can be exercised by hand.

--seed takes the same file as import and preloads every entity that has a
server id, so updates to the imported baseline succeed.

Fault file format:
  faults:
    - op: update
      kind: project
      status: 503
      times: 2
    - op: create
      delay: 30s

Exit codes:
  0 - Server stopped cleanly
  2 - Command error (bad fault file, address in use)

Examples:
  opsync serve-remote
  opsync serve-remote --addr :9000 --faults faults.yaml
  opsync serve-remote --seed seed.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeRemote(cmd.Context(), rootOpts, addr, faults, seed, cmd)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8087", "listen address")
	cmd.Flags().StringVar(&faults, "faults", "", "YAML file of faults to inject")
	cmd.Flags().StringVar(&seed, "seed", "", "import file whose server entities are preloaded")

	return cmd
}

// loadFaults reads a fault file.
func loadFaults(path string) ([]fakeserver.Fault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file FaultFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse faults: %w", err)
	}
	return file.Faults, nil
}

// seedServer preloads every entity of an import file that has a server id.
func seedServer(srv *fakeserver.Server, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var file ImportFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse seed: %w", err)
	}
	n := 0
	for i, spec := range file.Entities {
		if spec.ID == "" || ir.IsLocalID(spec.ID) {
			continue
		}
		e, err := spec.Build()
		if err != nil {
			return n, fmt.Errorf("entities[%d]: %w", i, err)
		}
		srv.Seed(e.Ref(), e.Payload())
		n++
	}
	return n, nil
}

func runServeRemote(ctx context.Context, opts *RootOptions, addr, faultsPath, seedPath string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd.ErrOrStderr(), "INFO", opts.Verbose)
	srv := fakeserver.New(fakeserver.WithLogger(logger))

	if faultsPath != "" {
		faults, err := loadFaults(faultsPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load faults", err)
		}
		for _, f := range faults {
			srv.Inject(f)
		}
		logger.Info("faults injected", "count", len(faults))
	}
	if seedPath != "" {
		n, err := seedServer(srv, seedPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load seed", err)
		}
		logger.Info("entities seeded", "count", n)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("remote listening", "addr", addr)
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "server did not shut down cleanly", err)
	}
	logger.Info("remote stopped", "entities", srv.Len(), "calls", len(srv.Calls()))
	return nil
}
