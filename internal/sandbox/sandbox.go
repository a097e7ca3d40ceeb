// Package sandbox runs generated analysis code against a query result.
//
// Code is Starlark. The environment holds the Starlark universe plus the
// builtins in this package and nothing else: there is no load(), and no
// builtin reaches the filesystem, the network or other processes. Each run
// is bounded by a wall-clock timeout, an execution step budget, a source
// size limit and an output size limit.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/warehouse"
)

const (
	scriptName      = "analysis.star"
	defaultTimeout  = 5 * time.Second
	defaultMaxSteps = 5_000_000
)

type Executor struct {
	limits config.SandboxConfig
	logger *slog.Logger
}

// NewExecutor runs code under limits. A zero timeout or step budget falls
// back to the built-in default; the sandbox never runs unbounded.
func NewExecutor(limits config.SandboxConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.Timeout <= 0 {
		limits.Timeout = defaultTimeout
	}
	if limits.MaxSteps == 0 {
		limits.MaxSteps = defaultMaxSteps
	}
	return &Executor{limits: limits, logger: logger}
}

// Execute runs code with df bound to result. It never returns an error and
// never panics: every failure is reported through the result's Status and
// Error fields.
func (e *Executor) Execute(ctx context.Context, code string, result warehouse.QueryResult) ExecutionResult {
	start := time.Now()
	outcome := e.execute(ctx, code, result)
	outcome.Duration = time.Since(start)
	observability.IncrementCodeExecution(string(outcome.Status))
	if outcome.Status == StatusFailed {
		e.logger.Info("generated code failed", "error", outcome.Error, "duration_ms", outcome.Duration.Milliseconds())
	}
	return outcome
}

func (e *Executor) execute(ctx context.Context, code string, result warehouse.QueryResult) ExecutionResult {
	if e.limits.MaxSourceBytes > 0 && len(code) > e.limits.MaxSourceBytes {
		return failed(nil, fmt.Sprintf("code exceeds %d bytes", e.limits.MaxSourceBytes))
	}

	out := &recorder{maxBytes: e.limits.MaxOutputBytes}
	thread := &starlark.Thread{
		Name: "analysis",
		Print: func(_ *starlark.Thread, msg string) {
			out.text(msg)
		},
	}
	if e.limits.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.limits.MaxSteps)
	}

	predeclared := builtins(out)
	predeclared["df"] = newTableFromResult(result)

	err := runWithTimeout(ctx, thread, e.limits.Timeout, func() error {
		_, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, scriptName, code, predeclared)
		return err
	})
	if err == nil && out.err != nil {
		err = out.err
	}
	if err != nil {
		return failed(out.outputs, describeError(err))
	}
	return ExecutionResult{Status: StatusExecuted, Outputs: out.outputs}
}

func failed(outputs []Output, message string) ExecutionResult {
	return ExecutionResult{Status: StatusFailed, Outputs: outputs, Error: message}
}

func describeError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}

// runWithTimeout cancels the thread when the timeout elapses or ctx ends,
// then waits for the interpreter to unwind.
func runWithTimeout(ctx context.Context, thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("interpreter panic: %v", r)
			}
		}()
		done <- fn()
	}()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-done:
		return err
	case <-timeoutC:
		thread.Cancel("timed out")
		<-done
		return fmt.Errorf("execution timed out after %s", timeout)
	case <-ctx.Done():
		thread.Cancel("cancelled")
		<-done
		return fmt.Errorf("execution cancelled: %w", ctx.Err())
	}
}

// recorder collects displayed outputs and enforces the output byte limit.
// Only the interpreter goroutine writes to it.
type recorder struct {
	outputs  []Output
	bytes    int
	maxBytes int
	err      error
}

func (r *recorder) add(output Output, size int) error {
	if r.err != nil {
		return r.err
	}
	r.bytes += size
	if r.maxBytes > 0 && r.bytes > r.maxBytes {
		r.err = fmt.Errorf("output exceeds %d bytes", r.maxBytes)
		return r.err
	}
	r.outputs = append(r.outputs, output)
	return nil
}

func (r *recorder) text(msg string) {
	_ = r.add(Output{Kind: OutputText, Text: msg}, len(msg))
}
