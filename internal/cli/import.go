package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jackson-sweet/opsapp-sub000/internal/harness"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
	"github.com/jackson-sweet/opsapp-sub000/internal/store"
)

// ImportFile is the YAML document read by import.
type ImportFile struct {
	Entities []harness.EntitySpec `yaml:"entities"`
}

// ImportResult reports what import wrote.
type ImportResult struct {
	Baseline []string `json:"baseline"` // server entities stored as synced
	Created  []string `json:"created"`  // new local entities pending a remote create
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <entities.yaml>",
		Short: "Load entities into the local store",
		Long: `Load projects, tasks and calendar events into the local store.

Entities with a server id are stored as the synced baseline (or dirty when
marked dirty: true). Entities without an id, or with a local- id, are
created through the engine and wait for their remote create.

File format:
  entities:
    - kind: project
      id: P1
      title: Roof
      status: accepted
      tasks: [T1]
    - kind: task
      project: P1
      title: Tear-off

Exit codes:
  0 - All entities written
  1 - An entity was refused (id taken, unknown status)
  2 - Command error (unreadable file, bad config)

Examples:
  opsync import seed.yaml
  opsync import seed.yaml --db ./opsync.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
}

func runImport(ctx context.Context, opts *RootOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenario, "failed to read import file", err)
	}
	var file ImportFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenario, "failed to parse import file", err)
	}

	var baseline, created []ir.Entity
	for i, spec := range file.Entities {
		e, err := spec.Build()
		if err != nil {
			return out.Fail(ExitFailure, ErrCodeScenario, fmt.Sprintf("entities[%d] is invalid", i), err)
		}
		if spec.ID == "" || ir.IsLocalID(spec.ID) {
			created = append(created, e)
			continue
		}
		meta := e.Meta()
		meta.Rev = 1
		if spec.Dirty {
			meta.Touch()
		} else {
			now := time.Now().UTC()
			meta.LastSyncedAt = &now
		}
		baseline = append(baseline, e)
	}

	env, err := openEnv(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	result := ImportResult{Baseline: []string{}, Created: []string{}}
	err = env.store.Update(ctx, func(tx store.Tx) error {
		for _, e := range baseline {
			if err := tx.Put(ctx, e); err != nil {
				return err
			}
			result.Baseline = append(result.Baseline, e.Ref().String())
		}
		return nil
	})
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "failed to write baseline", err)
	}

	for _, e := range created {
		applied, err := env.engine.Create(ctx, e)
		if err != nil {
			return out.Fail(ExitFailure, ErrCodeTransition,
				fmt.Sprintf("create %s refused (%s)", applied.Ref, harness.ErrorCode(err)), err)
		}
		result.Created = append(result.Created, applied.Ref.String())
	}
	env.logger.Info("import complete", "baseline", len(result.Baseline), "created", len(result.Created))

	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Imported %d synced, created %d local\n", len(result.Baseline), len(result.Created))
		for _, r := range result.Created {
			fmt.Fprintf(w, "  + %s\n", r)
		}
	})
}
