package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dotalias/internal/runner"
)

const defaultProbeTimeout = 15 * time.Second

// probe runs the executable with each argument set until one responds. A
// tool responds when it finishes in time and either exits zero or prints
// something; its first output line is returned as the version.
func probe(ctx context.Context, r runner.Runner, spec ToolSpec, path string, timeout time.Duration) (string, []runner.Invocation, error) {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	argSets := spec.ProbeArgs
	if len(argSets) == 0 {
		argSets = [][]string{nil}
	}

	var invocations []runner.Invocation
	for _, args := range argSets {
		if err := ctx.Err(); err != nil {
			return "", invocations, err
		}
		res, err := r.Run(ctx, path, args, runner.RunOptions{Timeout: timeout})
		inv := runner.Record("probe", path, args, res, err)
		invocations = append(invocations, inv)
		if res.TimedOut || errors.Is(err, runner.ErrTimeout) {
			continue
		}
		if res.ExitCode < 0 && err != nil {
			// never started
			continue
		}
		output := strings.TrimSpace(string(res.Stdout))
		if output == "" {
			output = strings.TrimSpace(string(res.Stderr))
		}
		if res.ExitCode == 0 || output != "" {
			return firstLine(output), invocations, nil
		}
	}
	return "", invocations, fmt.Errorf("%s did not respond to %d probe(s)", path, len(argSets))
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return strings.TrimSpace(text)
}
