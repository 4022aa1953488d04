package tools

import (
	"fmt"
	"strings"

	"dotalias/internal/runner"
)

// NetworkError is returned once a transfer exhausted its retry budget or hit
// a non-retryable HTTP failure.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ReleaseNotFoundError means no release, or no matching asset, exists.
type ReleaseNotFoundError struct {
	Repo      string
	Pattern   string
	Reason    string
	Available []string
}

func (e *ReleaseNotFoundError) Error() string {
	msg := fmt.Sprintf("no release asset matching %q in %s: %s", e.Pattern, e.Repo, e.Reason)
	if len(e.Available) > 0 {
		msg += " (available: " + strings.Join(e.Available, ", ") + ")"
	}
	return msg
}

// ToolAcquisitionError reports a tool that could not be made usable.
type ToolAcquisitionError struct {
	Tool     string
	Step     string
	Err      error
	Attempts []runner.Invocation
	Hints    []string
}

func (e *ToolAcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %s: %v", e.Tool, e.Step, e.Err)
}

func (e *ToolAcquisitionError) Unwrap() error { return e.Err }
