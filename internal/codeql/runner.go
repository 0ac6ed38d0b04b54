// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codeql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tombee/codeql-mcp/internal/log"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Command is one invocation of the codeql binary.
type Command struct {
	// Args follow the binary, e.g. ["database", "create", ...].
	Args []string

	// Dir is the working directory, or "" for the server's.
	Dir string

	// Timeout bounds how long the caller waits. Zero waits forever.
	Timeout time.Duration

	// Operation labels logs, metrics and timeout errors.
	Operation string
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	PID      int
}

// Runner executes codeql subcommands.
//
// Run returns a *errors.ProcessFailure together with the Result when the
// command exits non-zero, a *errors.LaunchError when it cannot start, and
// a *errors.TimeoutError when the caller stops waiting.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// AbandonedProcess is a subprocess still running after its caller gave up.
type AbandonedProcess struct {
	PID       int       `json:"pid"`
	Operation string    `json:"operation"`
	Args      []string  `json:"args"`
	Since     time.Time `json:"since"`
}

// ExecRunnerConfig configures an ExecRunner.
type ExecRunnerConfig struct {
	Binary        string
	MaxConcurrent int
	KillOnTimeout bool
	Logger        *slog.Logger
}

// ExecRunner runs codeql as a child process with an argument vector. No
// shell is involved. At most MaxConcurrent processes run at once; an
// abandoned process keeps its slot until it exits.
type ExecRunner struct {
	binary        string
	sem           *semaphore.Weighted
	killOnTimeout bool
	logger        *slog.Logger

	mu        sync.Mutex
	abandoned map[int]*abandonedEntry
}

type abandonedEntry struct {
	info    AbandonedProcess
	process *os.Process
}

// NewExecRunner creates a runner for the given binary.
func NewExecRunner(cfg ExecRunnerConfig) *ExecRunner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	return &ExecRunner{
		binary:        cfg.Binary,
		sem:           semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		killOnTimeout: cfg.KillOnTimeout,
		logger:        log.WithComponent(cfg.Logger, "runner"),
		abandoned:     make(map[int]*abandonedEntry),
	}
}

// Binary returns the executable this runner invokes.
func (r *ExecRunner) Binary() string {
	return r.binary
}

// Run executes cmd and waits for it, its timeout, or ctx.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	op := cmd.Operation
	if op == "" {
		op = "codeql"
	}

	queued := time.Now()
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, r.slotError(ctx, op, time.Since(queued))
	}

	c := exec.Command(r.binary, cmd.Args...)
	c.Dir = cmd.Dir
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	logger := r.logger.With(log.OperationKey, op)
	log.Trace(logger, "starting subprocess", slog.Any("args", cmd.Args), slog.String("dir", cmd.Dir))

	start := time.Now()
	if err := c.Start(); err != nil {
		r.sem.Release(1)
		recordSubprocess(op, statusLaunch, time.Since(start).Seconds())
		return nil, &cqerrors.LaunchError{Binary: r.binary, Cause: err}
	}
	subprocessInFlight.Inc()
	pid := c.Process.Pid

	// The execution timeout covers the running process only, not the
	// time spent queued for a slot.
	waitCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	select {
	case waitErr := <-done:
		r.release()
		elapsed := time.Since(start)
		res := &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: c.ProcessState.ExitCode(),
			Duration: elapsed,
			PID:      pid,
		}
		if waitErr != nil {
			recordSubprocess(op, statusFailed, elapsed.Seconds())
			logger.Debug("subprocess failed", log.PIDKey, pid, "exit_code", res.ExitCode, log.DurationKey, elapsed.Milliseconds())
			return res, &cqerrors.ProcessFailure{
				Command:  append([]string{r.binary}, cmd.Args...),
				ExitCode: res.ExitCode,
				Stderr:   res.Stderr,
			}
		}
		recordSubprocess(op, statusOK, elapsed.Seconds())
		logger.Debug("subprocess finished", log.PIDKey, pid, log.DurationKey, elapsed.Milliseconds())
		return res, nil

	case <-waitCtx.Done():
		elapsed := time.Since(start)
		if r.killOnTimeout {
			_ = c.Process.Kill()
			<-done
			r.release()
			recordSubprocess(op, statusTimeout, elapsed.Seconds())
			logger.Warn("subprocess killed after timeout", log.PIDKey, pid, log.DurationKey, elapsed.Milliseconds())
			return nil, r.waitError(ctx, op, cmd.Timeout, elapsed, 0, waitCtx.Err())
		}

		r.abandon(c.Process, op, cmd.Args, done, logger)
		recordSubprocess(op, statusTimeout, elapsed.Seconds())
		logger.Warn("caller stopped waiting; subprocess left running", log.PIDKey, pid, log.DurationKey, elapsed.Milliseconds())
		return nil, r.waitError(ctx, op, cmd.Timeout, elapsed, pid, waitCtx.Err())
	}
}

// waitError converts a wait failure into a timeout or a cancellation.
func (r *ExecRunner) waitError(ctx context.Context, op string, timeout, elapsed time.Duration, pid int, cause error) error {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	if timeout <= 0 {
		timeout = elapsed
	}
	return &cqerrors.TimeoutError{Operation: op, Duration: timeout, PID: pid, Cause: cause}
}

// slotError reports a caller that gave up before a process slot freed up.
// Nothing was spawned.
func (r *ExecRunner) slotError(ctx context.Context, op string, waited time.Duration) error {
	err := ctx.Err()
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.logger.Warn("gave up waiting for a subprocess slot", log.OperationKey, op, log.DurationKey, waited.Milliseconds())
	return &cqerrors.TimeoutError{Operation: op, Duration: waited, Queued: true, Cause: err}
}

func (r *ExecRunner) release() {
	subprocessInFlight.Dec()
	r.sem.Release(1)
}

func (r *ExecRunner) abandon(p *os.Process, op string, args []string, done <-chan error, logger *slog.Logger) {
	r.mu.Lock()
	r.abandoned[p.Pid] = &abandonedEntry{
		info: AbandonedProcess{
			PID:       p.Pid,
			Operation: op,
			Args:      append([]string(nil), args...),
			Since:     time.Now(),
		},
		process: p,
	}
	r.mu.Unlock()
	subprocessAbandoned.Inc()

	go func() {
		err := <-done
		r.mu.Lock()
		delete(r.abandoned, p.Pid)
		r.mu.Unlock()
		subprocessAbandoned.Dec()
		r.release()
		logger.Info("abandoned subprocess exited", log.PIDKey, p.Pid, "error", err)
	}()
}

// Abandoned lists processes left running after a caller timeout.
func (r *ExecRunner) Abandoned() []AbandonedProcess {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AbandonedProcess, 0, len(r.abandoned))
	for _, e := range r.abandoned {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Terminate kills one abandoned process.
func (r *ExecRunner) Terminate(pid int) error {
	r.mu.Lock()
	e, ok := r.abandoned[pid]
	r.mu.Unlock()
	if !ok {
		return &cqerrors.NotFoundError{Resource: "abandoned process", ID: strconv.Itoa(pid)}
	}
	if err := e.process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	r.logger.Info("terminated abandoned subprocess", log.PIDKey, pid, log.OperationKey, e.info.Operation)
	return nil
}

// TerminateAbandoned kills every abandoned process and returns how many
// were signalled.
func (r *ExecRunner) TerminateAbandoned() (int, error) {
	var errs []error
	n := 0
	for _, p := range r.Abandoned() {
		if err := r.Terminate(p.PID); err != nil {
			var nf *cqerrors.NotFoundError
			if !errors.As(err, &nf) {
				errs = append(errs, err)
			}
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
