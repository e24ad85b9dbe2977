package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackson-sweet/opsapp-sub000/internal/harness"
)

// SimulateResult is the JSON output of simulate.
type SimulateResult struct {
	Scenario string                    `json:"scenario"`
	Pass     bool                      `json:"pass"`
	Errors   []string                  `json:"errors,omitempty"`
	Trace    []harness.TraceEvent      `json:"trace"`
	State    map[string]map[string]any `json:"state,omitempty"`
	Pending  []string                  `json:"pending"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	var showState bool

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run a drag-and-sync scenario against the engine with an in-memory store,
a scripted remote and a fake clock, and print every step, remote call and
notice it produced.

Exit codes:
  0 - Scenario passed
  1 - A step expectation or assertion failed
  2 - Scenario could not be loaded

Examples:
  opsync simulate scenarios/drag_advance_sync.yaml
  opsync simulate scenarios/timeout_keeps_dirty.yaml --state
  opsync simulate scenarios/team_union.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, args[0], showState, cmd)
		},
	}

	cmd.Flags().BoolVar(&showState, "state", false, "print the final local state")
	return cmd
}

func runSimulate(opts *RootOptions, path string, showState bool, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenario, "failed to load scenario", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), "WARN", opts.Verbose)
	result, err := harness.Run(scenario, harness.WithLogger(logger))
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeScenario, "scenario could not run", err)
	}

	data := SimulateResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Trace:    result.Trace,
		Pending:  result.Pending,
	}
	if showState || out.JSON() {
		data.State = result.State
	}
	if err := out.Success(data, func(w io.Writer) { printSimulation(w, data) }); err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func printSimulation(w io.Writer, r SimulateResult) {
	fmt.Fprintf(w, "Scenario: %s\n\n", r.Scenario)
	for _, ev := range r.Trace {
		indent := ""
		if ev.Type != harness.EventStep {
			indent = "    "
		}
		line := fmt.Sprintf("%s[%d] %s", indent, ev.Seq, ev.Label())
		if ev.Outcome != "" {
			line += " -> " + ev.Outcome
		}
		if ev.Error != "" {
			line += " (" + ev.Error + ")"
		}
		if len(ev.Touched) > 0 {
			line += " touched=" + strings.Join(ev.Touched, ",")
		}
		fmt.Fprintln(w, line)
	}

	if r.State != nil {
		fmt.Fprintln(w, "\nFinal state:")
		for _, ref := range sortedRefs(r.State) {
			f := r.State[ref]
			fmt.Fprintf(w, "  %s status=%v needs_sync=%v rev=%v\n", ref, f["status"], f["needs_sync"], f["rev"])
		}
	}

	fmt.Fprintf(w, "\nPending: %d\n", len(r.Pending))
	if r.Pass {
		fmt.Fprintln(w, "✓ PASS")
		return
	}
	fmt.Fprintln(w, "✗ FAIL")
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
