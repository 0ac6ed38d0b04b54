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

package queryserver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/codeql-mcp/internal/rpc"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

const helperEnv = "CODEQL_MCP_HELPER_QUERY_SERVER"

// TestHelperQueryServer is not a real test. It runs as the child process
// for the supervisor tests, acting as a minimal line-framed query server.
func TestHelperQueryServer(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}

	switch mode {
	case "exit":
		fmt.Fprintln(os.Stderr, "boom: no licence")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	in := bufio.NewReader(os.Stdin)
	for {
		line, err := in.ReadBytes('\n')
		if err != nil {
			os.Exit(0)
		}
		msg, err := rpc.Decode(line)
		if err != nil {
			continue
		}
		req, ok := msg.(*rpc.Request)
		if !ok {
			continue
		}
		fmt.Fprintf(os.Stdout, `{"jsonrpc":"2.0","id":%d,"result":{"resultType":0}}`+"\n", req.ID.Num)
		if mode == "die-after-one" {
			os.Exit(0)
		}
	}
}

func helperConfig(mode string) Config {
	return Config{
		Binary:        os.Args[0],
		Args:          []string{"-test.run=^TestHelperQueryServer$", "--"},
		Env:           append(os.Environ(), helperEnv+"="+mode),
		Framing:       "line",
		ShutdownGrace: 2 * time.Second,
		StartupProbe:  100 * time.Millisecond,
	}
}

func TestDefaultArgs(t *testing.T) {
	assert.Equal(t, []string{"execute", "query-server2"}, DefaultArgs())
	assert.Equal(t, []string{"execute", "query-server2", "--threads=4"}, DefaultArgs("--threads=4"))
}

func TestSupervisor_StartCallStop(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(helperConfig("serve"))

	require.NoError(t, s.Start(ctx))
	st := s.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Positive(t, st.PID)

	api := NewAPI(s, 5*time.Second)
	res, err := api.RunQuery(ctx, "/q/a.ql", "/dbs/py", "/tmp/out.bqrs", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	require.NoError(t, s.Stop(ctx))
	st = s.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.Zero(t, st.PID)

	_, err = s.Acquire(ctx)
	var protoErr *cqerrors.ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestSupervisor_StartTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(helperConfig("serve"))
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { s.Stop(ctx) })

	assert.Error(t, s.Start(ctx))
}

func TestSupervisor_MissingBinary(t *testing.T) {
	cfg := helperConfig("serve")
	cfg.Binary = "/nonexistent/codeql"
	s := NewSupervisor(cfg)

	err := s.Start(context.Background())
	var launchErr *cqerrors.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestSupervisor_ImmediateExitIsLaunchError(t *testing.T) {
	cfg := helperConfig("exit")
	cfg.StartupProbe = 10 * time.Second
	s := NewSupervisor(cfg)

	err := s.Start(context.Background())
	var launchErr *cqerrors.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Contains(t, launchErr.Error(), "boom: no licence")

	st := s.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.NotEmpty(t, st.LastError)
}

func TestSupervisor_StopKillsAfterGrace(t *testing.T) {
	cfg := helperConfig("hang")
	cfg.ShutdownGrace = 100 * time.Millisecond
	s := NewSupervisor(cfg)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))

	start := time.Now()
	require.NoError(t, s.Stop(ctx))
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestSupervisor_ProcessDeathNeedsExplicitRestart(t *testing.T) {
	ctx := context.Background()
	s := NewSupervisor(helperConfig("die-after-one"))
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { s.Stop(ctx) })

	api := NewAPI(s, 5*time.Second)
	require.NoError(t, api.RegisterDatabases(ctx, []string{"/dbs/py"}))

	require.Eventually(t, func() bool {
		return s.Status().State == StateDead
	}, 10*time.Second, 20*time.Millisecond)

	_, err := s.Acquire(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart_query_server")

	// Still dead: nothing restarts on its own.
	assert.Equal(t, StateDead, s.Status().State)

	require.NoError(t, s.Restart(ctx))
	st := s.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 1, st.Restarts)

	_, err = s.Acquire(ctx)
	assert.NoError(t, err)
}

func TestSupervisor_LazyStartOnAcquire(t *testing.T) {
	cfg := helperConfig("serve")
	cfg.Lazy = true
	s := NewSupervisor(cfg)
	ctx := context.Background()
	t.Cleanup(func() { s.Stop(ctx) })

	assert.Equal(t, StateStopped, s.Status().State)

	c, err := s.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, StateRunning, s.Status().State)
}

func TestSupervisor_KillIsImmediate(t *testing.T) {
	cfg := helperConfig("hang")
	s := NewSupervisor(cfg)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Kill())
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(2)
	tb.Add("one")
	tb.Add("two")
	tb.Add("three")
	assert.Equal(t, "two\nthree", tb.String())
}
