package cmd

import (
	"fmt"
	"os"
	"strings"

	enginerrors "ledger-reconciliation-engine/pkg/errors"
	"ledger-reconciliation-engine/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler turns run failures into user-facing messages and the
// taxonomy exit code.
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError handles errors and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("command failed")

	if engineErr, ok := enginerrors.AsEngineError(err); ok {
		return h.handleEngineError(engineErr)
	}
	return h.handleGenericError(err)
}

// handleEngineError prints the taxonomy error with its context and
// category help, then maps the category to the exit code.
func (h *CLIErrorHandler) handleEngineError(err *enginerrors.EngineError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	fmt.Fprintf(os.Stderr, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.ExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check the database and migration paths\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(os.Stderr, "Error: Permission denied\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check file permissions on the database and output paths\n")
		return 2
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if !h.verbose {
		fmt.Fprintf(os.Stderr, "\nRun with --verbose for more detail\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category enginerrors.Category) string {
	switch category {
	case enginerrors.CategoryAmbiguity:
		return `Ambiguity help:
- Multiple valid candidates were found; nothing was auto-resolved
- Review the ranked candidates in the report output
- Narrow the match with --date-window or --min-amount`

	case enginerrors.CategoryIntegrityGap:
		return `Integrity gap help:
- A settlement references an entity that does not exist
- The record was skipped; fix the referenced row and re-run
- Check for business keys deleted or renamed upstream`

	case enginerrors.CategoryTolerance:
		return `Tolerance help:
- Amounts or dates fell outside the configured windows
- Adjust --date-window or the amount epsilon in the config file
- Treated as unmatched, not as a failure`

	case enginerrors.CategoryConfiguration:
		return `Configuration error help:
- Check your command-line flags and arguments
- Destructive operations need --write and a valid --override-key
- Verify config file syntax if using --config
- Use 'reconciler run --help' to see all available options`

	case enginerrors.CategoryStore:
		return `Store error help:
- Check that the database path exists and is writable
- Another process may hold the sqlite write lock
- Earlier chunks of an apply run stay committed; re-running is safe`

	case enginerrors.CategoryStructural:
		return `Structural error help:
- The schema or database connection failed; the run was aborted
- Check the migrations path and database file integrity
- No further mutations were attempted after the failure`

	default:
		return `For more help:
- Use 'reconciler --help' for general help
- Use 'reconciler <command> --help' for command-specific help`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}
