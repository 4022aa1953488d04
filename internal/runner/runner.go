package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

type RunOptions struct {
	Dir     string
	Env     []string
	Stdout  io.Writer
	Stderr  io.Writer
	Timeout time.Duration
}

type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

type Runner interface {
	Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error)
}

// ErrTimeout is wrapped into the error of a child process that outlived its
// timeout.
var ErrTimeout = errors.New("timed out")

type CmdRunner struct{}

func (CmdRunner) Run(ctx context.Context, command string, args []string, opts RunOptions) (RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	// Child processes that keep the output pipes open after being killed
	// must not hold the run hostage.
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer

	stdoutWriter := io.Writer(&stdoutBuf)
	if opts.Stdout != nil {
		stdoutWriter = io.MultiWriter(&stdoutBuf, opts.Stdout)
	}
	stderrWriter := io.Writer(&stderrBuf)
	if opts.Stderr != nil {
		stderrWriter = io.MultiWriter(&stderrBuf, opts.Stderr)
	}

	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	start := time.Now()
	err := cmd.Run()
	result := RunResult{
		Stdout:   stdoutBuf.Bytes(),
		Stderr:   stderrBuf.Bytes(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && opts.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.TimedOut = true
		return result, fmt.Errorf("%s %w after %s: %v", command, ErrTimeout, opts.Timeout, err)
	}
	return result, err
}

var _ Runner = CmdRunner{}

// Invocation records one attempted child process for diagnostics.
type Invocation struct {
	Label    string   `json:"label"`
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	Error    string   `json:"error,omitempty"`
	Note     string   `json:"note,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
}

// Record builds an Invocation from a finished run.
func Record(label, command string, args []string, res RunResult, err error) Invocation {
	inv := Invocation{
		Label:    label,
		Command:  command,
		Args:     append([]string(nil), args...),
		ExitCode: res.ExitCode,
		Stdout:   strings.TrimSpace(string(res.Stdout)),
		Stderr:   strings.TrimSpace(string(res.Stderr)),
		TimedOut: res.TimedOut,
	}
	if err != nil {
		inv.Error = err.Error()
	}
	return inv
}

// CommandLine renders the invocation the way a user would type it.
func (i Invocation) CommandLine() string {
	parts := make([]string, 0, len(i.Args)+1)
	parts = append(parts, quoteArg(i.Command))
	for _, a := range i.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// FormatInvocations renders invocations as a readable transcript.
func FormatInvocations(invs []Invocation) string {
	var b strings.Builder
	for i, inv := range invs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, inv.Label, inv.CommandLine())
		fmt.Fprintf(&b, "    exit=%d", inv.ExitCode)
		if inv.TimedOut {
			b.WriteString(" (timed out)")
		}
		b.WriteByte('\n')
		if inv.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", inv.Error)
		}
		if inv.Note != "" {
			fmt.Fprintf(&b, "    note: %s\n", inv.Note)
		}
		if inv.Stdout != "" {
			fmt.Fprintf(&b, "    stdout:\n%s\n", indent(inv.Stdout, "      "))
		}
		if inv.Stderr != "" {
			fmt.Fprintf(&b, "    stderr:\n%s\n", indent(inv.Stderr, "      "))
		}
	}
	return b.String()
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = prefix + strings.TrimRight(l, "\r")
	}
	return strings.Join(lines, "\n")
}
