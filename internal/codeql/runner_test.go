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
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

const helperCLIEnv = "CODEQL_MCP_HELPER_CLI"

// TestHelperCodeQL is not a real test. It stands in for the codeql binary
// in the runner tests.
func TestHelperCodeQL(t *testing.T) {
	mode := os.Getenv(helperCLIEnv)
	if mode == "" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	switch mode {
	case "echo":
		fmt.Fprint(os.Stdout, strings.Join(args, " "))
		os.Exit(0)
	case "fail":
		fmt.Fprint(os.Stderr, "A fatal error occurred: bad things")
		os.Exit(2)
	case "sleep":
		time.Sleep(30 * time.Second)
		os.Exit(0)
	}
	os.Exit(1)
}

func helperRunner(t *testing.T, mode string, cfg ExecRunnerConfig) *ExecRunner {
	t.Helper()
	t.Setenv(helperCLIEnv, mode)
	cfg.Binary = os.Args[0]
	return NewExecRunner(cfg)
}

func helperCommand(op string, timeout time.Duration, args ...string) Command {
	return Command{
		Args:      append([]string{"-test.run=^TestHelperCodeQL$", "--"}, args...),
		Timeout:   timeout,
		Operation: op,
	}
}

func TestExecRunner_Success(t *testing.T) {
	r := helperRunner(t, "echo", ExecRunnerConfig{MaxConcurrent: 2})

	res, err := r.Run(context.Background(), helperCommand("resolve languages", 30*time.Second, "resolve", "languages"))
	require.NoError(t, err)
	assert.Equal(t, "resolve languages", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Positive(t, res.PID)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	r := helperRunner(t, "fail", ExecRunnerConfig{MaxConcurrent: 2})

	res, err := r.Run(context.Background(), helperCommand("database create", 30*time.Second, "database", "create"))
	var failure *cqerrors.ProcessFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 2, failure.ExitCode)
	assert.Equal(t, "A fatal error occurred: bad things", failure.Stderr)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.ExitCode)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner(ExecRunnerConfig{Binary: "/nonexistent/codeql"})

	_, err := r.Run(context.Background(), Command{Args: []string{"version"}})
	var launchErr *cqerrors.LaunchError
	assert.ErrorAs(t, err, &launchErr)
}

func TestExecRunner_TimeoutAbandonsProcess(t *testing.T) {
	r := helperRunner(t, "sleep", ExecRunnerConfig{MaxConcurrent: 2})

	_, err := r.Run(context.Background(), helperCommand("database create", 200*time.Millisecond))
	var timeoutErr *cqerrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Positive(t, timeoutErr.PID)
	assert.Equal(t, "database create", timeoutErr.Operation)

	abandoned := r.Abandoned()
	require.Len(t, abandoned, 1)
	assert.Equal(t, timeoutErr.PID, abandoned[0].PID)

	n, err := r.TerminateAbandoned()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool { return len(r.Abandoned()) == 0 }, 10*time.Second, 20*time.Millisecond)
}

func TestExecRunner_KillOnTimeout(t *testing.T) {
	r := helperRunner(t, "sleep", ExecRunnerConfig{MaxConcurrent: 2, KillOnTimeout: true})

	_, err := r.Run(context.Background(), helperCommand("database analyze", 200*time.Millisecond))
	var timeoutErr *cqerrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Zero(t, timeoutErr.PID)
	assert.Empty(t, r.Abandoned())
}

func TestExecRunner_AbandonedProcessHoldsSlot(t *testing.T) {
	r := helperRunner(t, "sleep", ExecRunnerConfig{MaxConcurrent: 1})

	_, err := r.Run(context.Background(), helperCommand("slow", 200*time.Millisecond))
	require.Error(t, err)
	require.Len(t, r.Abandoned(), 1)

	// The only slot is held by the abandoned process. Queue time does not
	// count against the second command's timeout.
	type outcome struct {
		err     error
		elapsed time.Duration
	}
	results := make(chan outcome, 1)
	go func() {
		begin := time.Now()
		_, err := r.Run(context.Background(), helperCommand("queued", 100*time.Millisecond))
		results <- outcome{err: err, elapsed: time.Since(begin)}
	}()

	select {
	case got := <-results:
		t.Fatalf("queued command returned before a slot was free: %v", got.err)
	case <-time.After(400 * time.Millisecond):
	}

	_, err = r.TerminateAbandoned()
	require.NoError(t, err)

	var got outcome
	select {
	case got = <-results:
	case <-time.After(10 * time.Second):
		t.Fatal("queued command never finished")
	}
	var timeoutErr *cqerrors.TimeoutError
	require.ErrorAs(t, got.err, &timeoutErr)
	assert.False(t, timeoutErr.Queued)
	assert.Positive(t, timeoutErr.PID, "queued command should have been spawned")
	assert.Equal(t, 100*time.Millisecond, timeoutErr.Duration)

	_, err = r.TerminateAbandoned()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(r.Abandoned()) == 0 }, 10*time.Second, 20*time.Millisecond)
}

func TestExecRunner_CallerGivesUpWhileQueued(t *testing.T) {
	r := helperRunner(t, "sleep", ExecRunnerConfig{MaxConcurrent: 1})

	_, err := r.Run(context.Background(), helperCommand("slow", 100*time.Millisecond))
	require.Error(t, err)
	t.Cleanup(func() { _, _ = r.TerminateAbandoned() })

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx, helperCommand("queued", 10*time.Second))

	var timeoutErr *cqerrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Queued)
	assert.Zero(t, timeoutErr.PID)
	assert.Contains(t, err.Error(), "waiting for a free process slot")
	assert.Len(t, r.Abandoned(), 1)
}

func TestExecRunner_TerminateUnknownPID(t *testing.T) {
	r := NewExecRunner(ExecRunnerConfig{Binary: "codeql"})

	err := r.Terminate(999999)
	var nf *cqerrors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestExecRunner_CancelledContext(t *testing.T) {
	r := helperRunner(t, "sleep", ExecRunnerConfig{MaxConcurrent: 1, KillOnTimeout: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, helperCommand("cancelled", 0))
	assert.ErrorIs(t, err, context.Canceled)
}
