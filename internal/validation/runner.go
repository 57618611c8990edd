// Package validation executes a scenario's validation commands against the
// mutated workspace and records their outcomes.
package validation

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCommandTimeout bounds each validation command's wall-clock time.
const DefaultCommandTimeout = 10 * time.Minute

// TimeoutExitCode is recorded for commands killed by their timeout, matching
// the shell convention for timed-out processes.
const TimeoutExitCode = 124

// Result is the outcome of one validation command.
type Result struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration_ns"`
	TimedOut bool          `json:"timed_out"`
	// Canceled marks a command killed by run-level cancellation rather than
	// its own timeout or exit status. Evaluators treat it as absent, not
	// failed.
	Canceled bool `json:"canceled,omitempty"`
}

// Passed reports whether the command completed with exit code zero.
func (r Result) Passed() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Run executes commands strictly sequentially in declared order; each later
// command sees the cumulative filesystem state left by earlier ones. A
// failing or timed-out command never aborts the remainder, so evaluator
// inputs keep a stable shape; only run-level cancellation cuts the list
// short. The returned results follow the input order exactly.
func Run(ctx context.Context, commands []string, workDir string, perCommandTimeout time.Duration, logger zerolog.Logger) []Result {
	if perCommandTimeout <= 0 {
		perCommandTimeout = DefaultCommandTimeout
	}

	results := make([]Result, 0, len(commands))
	for _, command := range commands {
		// Run-level cancellation ends the list; commands that never started
		// produce no results at all.
		if ctx.Err() != nil {
			break
		}
		results = append(results, runOne(ctx, command, workDir, perCommandTimeout, logger))
	}
	return results
}

func runOne(ctx context.Context, command, workDir string, timeout time.Duration, logger zerolog.Logger) Result {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		// The run was cancelled, not the command timing out or failing.
		res.Canceled = true
		res.ExitCode = -1
		logger.Warn().Str("command", command).Msg("validation command canceled")
	case cmdCtx.Err() != nil && ctx.Err() == nil:
		// The per-command deadline fired, not the run-level context.
		res.TimedOut = true
		res.ExitCode = TimeoutExitCode
		logger.Warn().Str("command", command).Dur("timeout", timeout).Msg("validation command timed out")
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Command could not start at all (missing shell, bad workdir).
			res.ExitCode = 127
			res.Stderr = err.Error()
		}
		logger.Warn().Str("command", command).Int("exit_code", res.ExitCode).Msg("validation command failed")
	}
	return res
}
