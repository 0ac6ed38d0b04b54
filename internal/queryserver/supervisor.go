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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tombee/codeql-mcp/internal/log"
	"github.com/tombee/codeql-mcp/internal/rpc"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// State is the lifecycle state of the query-server child process.
type State string

const (
	// StateStopped means no process is running.
	StateStopped State = "stopped"
	// StateStarting means the process is being launched.
	StateStarting State = "starting"
	// StateRunning means the process is up and its client is usable.
	StateRunning State = "running"
	// StateStopping means Stop is waiting for the process to exit.
	StateStopping State = "stopping"
	// StateDead means the process exited or its stream became unusable.
	// Only an explicit Restart leaves this state.
	StateDead State = "dead"
)

// DefaultArgs returns the arguments that put codeql into JSON-RPC mode.
func DefaultArgs(extra ...string) []string {
	return append([]string{"execute", "query-server2"}, extra...)
}

// Config configures a Supervisor.
type Config struct {
	// Binary is the executable to run.
	Binary string

	// Args are passed to Binary. Use DefaultArgs for codeql.
	Args []string

	// Env, if non-nil, replaces the child's environment.
	Env []string

	// Framing is "line" or "header".
	Framing string

	// ShutdownGrace bounds how long Stop waits before killing.
	ShutdownGrace time.Duration

	// StartupProbe is how long Start watches for an immediate exit.
	StartupProbe time.Duration

	// MaxProtocolErrors is passed to the client.
	MaxProtocolErrors int

	// Lazy lets Acquire start a never-started server on first use.
	Lazy bool

	// Logger receives lifecycle events and the child's stderr.
	Logger *slog.Logger

	// Handler receives notifications from the server.
	Handler NotificationHandler

	// Observer is told about every finished call.
	Observer CallObserver
}

// Status is a snapshot of the supervisor.
type Status struct {
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Pending   int       `json:"pending"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
}

// Supervisor owns the query-server child process and its client. It never
// restarts the process on its own.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	client    *Client
	exited    chan struct{}
	startedAt time.Time
	restarts  int
	everRan   bool
	lastErr   error
	stderr    *tailBuffer
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.StartupProbe <= 0 {
		cfg.StartupProbe = 250 * time.Millisecond
	}
	return &Supervisor{
		cfg:    cfg,
		logger: log.WithComponent(cfg.Logger, "queryserver"),
		state:  StateStopped,
	}
}

// Start launches the child process. It fails with *errors.LaunchError if
// the binary cannot be started or exits within the startup probe window.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped && s.state != StateDead {
		state := s.state
		s.mu.Unlock()
		return &stateError{state: state}
	}
	if s.state == StateDead {
		s.releaseLocked()
	}
	s.state = StateStarting
	s.mu.Unlock()

	err := s.launch(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateStopped
		s.lastErr = err
		return err
	}
	s.state = StateRunning
	s.everRan = true
	s.startedAt = time.Now()
	s.lastErr = nil
	return nil
}

func (s *Supervisor) launch(ctx context.Context) error {
	codec, err := rpc.NewCodec(s.cfg.Framing)
	if err != nil {
		return &cqerrors.ConfigError{Key: "query_server.framing", Reason: err.Error()}
	}

	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...)
	if s.cfg.Env != nil {
		cmd.Env = s.cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &cqerrors.LaunchError{Binary: s.cfg.Binary, Reason: "stdin pipe", Cause: err}
	}

	// os.Pipe rather than StdoutPipe: Wait must not close the read side
	// while the reader goroutine is still draining it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return &cqerrors.LaunchError{Binary: s.cfg.Binary, Reason: "stdout pipe", Cause: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return &cqerrors.LaunchError{Binary: s.cfg.Binary, Reason: "stderr pipe", Cause: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return &cqerrors.LaunchError{Binary: s.cfg.Binary, Cause: err}
	}
	stdoutW.Close()
	stderrW.Close()

	pid := cmd.Process.Pid
	logger := s.logger.With(log.PIDKey, pid)
	logger.Info("query server started", "binary", s.cfg.Binary, "args", strings.Join(s.cfg.Args, " "))

	tail := newTailBuffer(20)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		forwardStderr(stderrR, logger, tail)
	}()

	client := NewClient(stdoutR, stdin, ClientOptions{
		Codec:             codec,
		Logger:            logger,
		MaxProtocolErrors: s.cfg.MaxProtocolErrors,
		Handler:           s.cfg.Handler,
		Observer:          s.cfg.Observer,
	})

	exited := make(chan struct{})
	go func() {
		waitErr := cmd.Wait()
		if waitErr != nil {
			logger.Warn("query server exited", log.Error(waitErr))
		} else {
			logger.Info("query server exited")
		}
		client.Close(&cqerrors.ProtocolError{Message: "query server exited", Cause: waitErr})
		<-client.ReaderDone()
		stdoutR.Close()
		close(exited)
	}()

	go s.watchClient(client)

	s.mu.Lock()
	s.cmd = cmd
	s.client = client
	s.exited = exited
	s.stderr = tail
	s.mu.Unlock()

	probe := time.NewTimer(s.cfg.StartupProbe)
	defer probe.Stop()

	select {
	case <-exited:
		s.mu.Lock()
		s.releaseLocked()
		s.mu.Unlock()
		select {
		case <-stderrDone:
		case <-time.After(time.Second):
		}
		reason := "exited immediately"
		if out := tail.String(); out != "" {
			reason += ": " + out
		}
		return &cqerrors.LaunchError{Binary: s.cfg.Binary, Reason: reason}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		s.mu.Lock()
		s.releaseLocked()
		s.mu.Unlock()
		return &cqerrors.LaunchError{Binary: s.cfg.Binary, Reason: "startup cancelled", Cause: ctx.Err()}
	case <-probe.C:
		return nil
	}
}

// watchClient marks the server dead when its client shuts down while the
// server is supposed to be running, and kills a process whose stream is
// no longer usable.
func (s *Supervisor) watchClient(client *Client) {
	<-client.Done()

	s.mu.Lock()
	if s.client != client || (s.state != StateRunning && s.state != StateStarting) {
		s.mu.Unlock()
		return
	}
	s.state = StateDead
	s.lastErr = client.Err()
	cmd := s.cmd
	s.mu.Unlock()

	s.logger.Error("query server is no longer usable; restart required", log.Error(client.Err()))
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// Stop shuts the server down: stdin is closed so the server sees EOF,
// then the process gets ShutdownGrace to exit before it is killed. All
// pending calls fail. The process handle is released on every path.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd == nil {
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cmd, client, exited := s.cmd, s.client, s.exited
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.releaseLocked()
		s.state = StateStopped
		s.mu.Unlock()
	}()

	_ = client.Close(&cqerrors.ProtocolError{Message: "query server stopped"})

	grace := time.NewTimer(s.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-exited:
		return nil
	case <-grace.C:
		s.logger.Warn("query server did not exit within grace period; killing", "grace", s.cfg.ShutdownGrace)
	case <-ctx.Done():
		s.logger.Warn("stop cancelled; killing query server")
	}

	if err := cmd.Process.Kill(); err != nil && !isProcessDone(err) {
		<-exited
		return fmt.Errorf("kill query server: %w", err)
	}
	<-exited
	return nil
}

// Kill terminates the process immediately.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	cmd, exited := s.cmd, s.exited
	if cmd == nil {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	s.mu.Unlock()

	err := cmd.Process.Kill()
	<-exited

	s.mu.Lock()
	s.releaseLocked()
	s.state = StateStopped
	s.mu.Unlock()

	if err != nil && !isProcessDone(err) {
		return err
	}
	return nil
}

// Restart stops any running process and starts a new one.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	return nil
}

// Acquire returns the running client. A lazy supervisor that has never
// run is started here. A dead or stopped server is reported as a
// *errors.ProtocolError; it is never restarted implicitly.
func (s *Supervisor) Acquire(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	state, client, everRan := s.state, s.client, s.everRan
	lastErr := s.lastErr
	s.mu.Unlock()

	switch {
	case state == StateRunning && client != nil && client.Err() == nil:
		return client, nil
	case state == StateStopped && !everRan && s.cfg.Lazy:
		var busy *stateError
		if err := s.Start(ctx); err != nil && !errors.As(err, &busy) {
			return nil, err
		}
		return s.Acquire(ctx)
	case state == StateDead:
		return nil, &cqerrors.ProtocolError{Message: "query server is dead; call restart_query_server", Cause: lastErr}
	default:
		return nil, &cqerrors.ProtocolError{Message: fmt.Sprintf("query server is %s", state)}
	}
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:     s.state,
		StartedAt: s.startedAt,
		Restarts:  s.restarts,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	if s.client != nil {
		st.Pending = s.client.Pending()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// releaseLocked drops the process handle. Caller holds s.mu.
func (s *Supervisor) releaseLocked() {
	s.cmd = nil
	s.client = nil
	s.exited = nil
}

// stateError reports a lifecycle call made in the wrong state.
type stateError struct {
	state State
}

func (e *stateError) Error() string {
	return fmt.Sprintf("query server is %s", e.state)
}

func isProcessDone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}

func forwardStderr(r io.ReadCloser, logger *slog.Logger, tail *tailBuffer) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Add(line)
		logger.Debug("query server stderr", "line", line)
	}
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(strings.Join(t.lines, "\n"))
}
