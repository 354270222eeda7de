package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kestrel/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Resources  int                        `json:"resources"`
	Daemons    int                        `json:"daemons"`
	Activities int                        `json:"activities"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
	Warnings   []compiler.Warning         `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Validate a plan document without simulating it",
		Long: `Validate a YAML or CUE plan document.

Reports every schema problem at once (unknown types, undeclared
resources, bad literals, duplicate names) and analyzes daemons for
subscriptions nothing writes and chains that will not propagate.

Exit codes:
  0 - Plan is valid (warnings allowed)
  2 - Plan could not be loaded or is invalid`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.setup(cmd); err != nil {
				return err
			}
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	doc, err := loadPlan(formatter, path)
	if err != nil {
		return err
	}

	if errs := compiler.Validate(doc); len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	result := ValidationResult{
		Valid:      true,
		Resources:  len(doc.Resources),
		Daemons:    len(doc.Daemons),
		Activities: len(doc.Activities),
		Warnings:   compiler.AnalyzeDaemons(doc),
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Plan valid (%d resources, %d daemons, %d activities)\n",
		result.Resources, result.Daemons, result.Activities)
	printWarnings(formatter, result.Warnings)
	return nil
}

// loadPlan reads a plan document, reporting failures with ErrCodeNotFound
// or ErrCodeLoad.
func loadPlan(formatter *OutputFormatter, path string) (*compiler.Document, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, formatter.fail(ExitCommandError, ErrCodeNotFound, "plan not found: "+path, nil)
	}
	formatter.VerboseLog("Loading plan %s", path)
	doc, err := compiler.Load(path)
	if err != nil {
		return nil, formatter.fail(ExitCommandError, ErrCodeLoad, "failed to load plan", err)
	}
	return doc, nil
}

// printWarnings lists daemon warnings. Informational findings are shown
// only in verbose mode.
func printWarnings(formatter *OutputFormatter, warnings []compiler.Warning) {
	for _, w := range warnings {
		if w.Level == "warning" || formatter.Verbose {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
		}
	}
}

// outputValidationErrors outputs every validation error and returns the
// command error.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		_ = formatter.Error(errs[0].Code, fmt.Sprintf("%d validation error(s)", len(errs)), ValidationResult{
			Valid:  false,
			Errors: errs,
		})
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Validation failed: %d error(s)\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
		}
	}
	return WrapExitError(ExitCommandError, "validation failed", compiler.ValidationErrors(errs))
}
