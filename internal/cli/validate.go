package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackson-sweet/opsapp-sub000/internal/compiler"
	"github.com/jackson-sweet/opsapp-sub000/internal/ir"
)

// ValidateResult is the output of validate.
type ValidateResult struct {
	Valid     bool                       `json:"valid"`
	Source    string                     `json:"source"`
	Workflows int                        `json:"workflows,omitempty"`
	Cascades  int                        `json:"cascades,omitempty"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflows.cue]",
		Short: "Validate workflow definitions",
		Long: `Compile status workflows and cascade rules from a CUE file and check them:
unknown statuses, branches that skip the order, role lists, the tutorial
pair and cascade cycles. Without a file the built-in definitions are
checked.

Exit codes:
  0 - Definitions are valid
  1 - Definitions are invalid
  2 - Command error (file not found)

Examples:
  opsync validate
  opsync validate workflows.cue
  opsync validate workflows.cue --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	var (
		set *ir.WorkflowSet
		err error
	)
	result := ValidateResult{Source: path}
	if path == "" {
		result.Source = compiler.DefaultFilename
		set, err = compiler.Default()
	} else {
		src, readErr := os.ReadFile(path)
		if readErr != nil {
			return out.Fail(ExitCommandError, ErrCodeWorkflow, "failed to read workflow file", readErr)
		}
		set, err = compiler.Compile(path, src)
	}

	if err != nil {
		var (
			verrs compiler.ValidationErrors
			cerr  *compiler.CompileError
		)
		switch {
		case errors.As(err, &verrs):
			result.Errors = verrs
		case errors.As(err, &cerr):
			result.Errors = []compiler.ValidationError{{Field: cerr.Field, Message: cerr.Message, Code: "CUE"}}
		default:
			result.Errors = []compiler.ValidationError{{Message: err.Error(), Code: "CUE"}}
		}
	} else {
		result.Valid = true
		result.Workflows = len(set.Workflows)
		result.Cascades = len(set.Cascades)
	}

	if err := out.Success(result, func(w io.Writer) { printValidateResult(w, result) }); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%s is invalid", result.Source))
	}
	return nil
}

func printValidateResult(w io.Writer, r ValidateResult) {
	if r.Valid {
		fmt.Fprintf(w, "✓ %s: %d workflows, %d cascade rules\n", r.Source, r.Workflows, r.Cascades)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", r.Source)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e.Error())
	}
}
