package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Process exit codes. A run that finished with failures, a failing
// scenario and a plan with validation errors all exit 1; anything that
// stopped kestrel from getting that far exits 2.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// CLIError codes. Plan validation reports the compiler's own E1xx codes.
const (
	ErrCodeLoad     = "E001" // plan document unreadable or malformed
	ErrCodeBuild    = "E002" // plan did not build
	ErrCodeRejected = "E003" // engine refused the request
	ErrCodeRun      = "E004" // run ended failed or cancelled
	ErrCodeStore    = "E005" // history file unusable
	ErrCodeNotFound = "E006" // path missing
)

// ExitError carries the process exit code up to main.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command's error to the process exit code. Errors that
// carry no ExitError count as failures.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// OutputFormatter writes a command's result as text or as one JSON
// envelope per call. Diagnostics go to ErrWriter so `--format json`
// output stays machine-readable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // falls back to Writer
	Verbose   bool
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the JSON envelope: Data on success, Error otherwise.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success prints data. Commands with a richer text rendering call it only
// for JSON and print their own text.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.emit(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error prints a coded error. Text output shows details only when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.emit(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	if f.Verbose && details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", details)
		return err
	}
	return nil
}

func (f *OutputFormatter) emit(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// fail prints the error with its cause and returns the ExitError the
// command should return. Printing is best effort; the exit code is what
// scripts rely on.
func (f *OutputFormatter) fail(exitCode int, code, message string, err error) error {
	text := message
	if err != nil {
		text += ": " + err.Error()
	}
	_ = f.Error(code, text, nil)
	return WrapExitError(exitCode, code+": "+message, err)
}

// VerboseLog prints a progress line to the diagnostic stream under
// --verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.diag(), format+"\n", args...)
}

func (f *OutputFormatter) diag() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
