package cli

import (
	"fmt"
	"os"

	orcherrors "github.com/randalmurphal/orch/internal/errors"
)

// PrintError prints an error to stderr with appropriate formatting.
// If the error is an OrchError, it uses the user-friendly format.
// Otherwise, it prints a simple error message.
func PrintError(err error) {
	if orchErr := orcherrors.AsOrchError(err); orchErr != nil {
		fmt.Fprintln(os.Stderr, orchErr.UserMessage())
		if verbose {
			fmt.Fprintf(os.Stderr, "\nCode: %s\n", orchErr.Code)
			if orchErr.Cause != nil {
				fmt.Fprintf(os.Stderr, "Cause: %v\n", orchErr.Cause)
			}
		}
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
