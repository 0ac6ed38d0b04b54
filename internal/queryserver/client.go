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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/tombee/codeql-mcp/internal/log"
	"github.com/tombee/codeql-mcp/internal/rpc"
	cqerrors "github.com/tombee/codeql-mcp/pkg/errors"
)

// Progress notification methods sent by query-server2.
const (
	MethodProgressUpdated    = "ql/progressUpdated"
	MethodEvaluationProgress = "evaluation/progress"
)

// DefaultMaxProtocolErrors is used when ClientOptions leaves it unset.
const DefaultMaxProtocolErrors = 20

// NotificationHandler receives notifications with no progress listener
// and every non-progress notification.
type NotificationHandler func(method string, params json.RawMessage)

// ProgressUpdate is one progress notification for a call.
type ProgressUpdate struct {
	ID      int
	Step    int
	MaxStep int
	Message string
}

// ProgressListener receives progress for one progress ID.
type ProgressListener func(ProgressUpdate)

// CallObserver is told about every finished call.
type CallObserver func(method string, elapsed time.Duration, err error)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Codec frames messages on the wire. Default: rpc.LineCodec.
	Codec rpc.Codec

	// Logger receives protocol warnings. Default: discard.
	Logger *slog.Logger

	// MaxProtocolErrors is the number of consecutive unreadable messages
	// after which the client shuts itself down.
	MaxProtocolErrors int

	// Handler receives notifications.
	Handler NotificationHandler

	// Observer is called when a call completes, fails, or times out.
	Observer CallObserver
}

type callResult struct {
	resp *rpc.Response
	err  error
}

type pendingCall struct {
	method string
	ch     chan callResult
}

// Client correlates JSON-RPC requests and responses over one stream pair.
// Any number of goroutines may Call concurrently; a single reader goroutine
// dispatches responses by ID, so calls may complete out of order.
type Client struct {
	codec    rpc.Codec
	w        io.WriteCloser
	logger   *slog.Logger
	handler  NotificationHandler
	observer CallObserver
	maxErrs  int

	nextID       atomic.Uint64
	nextProgress atomic.Int64

	// writeMu serializes writes. It is never held while mu is wanted, so a
	// blocked write cannot stall response dispatch.
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[uint64]*pendingCall
	progress map[int]ProgressListener
	closed   bool
	closeErr error

	done       chan struct{}
	readerDone chan struct{}
}

// NewClient starts a client reading responses from r and writing requests
// to w. Closing the client closes w.
func NewClient(r io.Reader, w io.WriteCloser, opts ClientOptions) *Client {
	if opts.Codec == nil {
		opts.Codec = rpc.LineCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.MaxProtocolErrors <= 0 {
		opts.MaxProtocolErrors = DefaultMaxProtocolErrors
	}

	c := &Client{
		codec:      opts.Codec,
		w:          w,
		logger:     opts.Logger,
		handler:    opts.Handler,
		observer:   opts.Observer,
		maxErrs:    opts.MaxProtocolErrors,
		pending:    make(map[uint64]*pendingCall),
		progress:   make(map[int]ProgressListener),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	go c.readLoop(r)

	return c
}

// Call sends method with params and waits for the matching response.
//
// A timeout > 0 bounds the wait. When it elapses the pending entry is
// removed and a *errors.TimeoutError is returned; the server is not told
// and keeps whatever work it started. A context deadline is reported the
// same way. If the client shuts down while waiting the call fails with a
// *errors.ProtocolError.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	result, err := c.call(ctx, method, params, timeout, start)
	if c.observer != nil {
		c.observer(method, time.Since(start), err)
	}
	return result, err
}

func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration, start time.Time) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req, err := rpc.NewRequest(id, method, params)
	if err != nil {
		return nil, &cqerrors.InternalError{Message: "encode request", Cause: err}
	}
	data, err := rpc.Marshal(req)
	if err != nil {
		return nil, &cqerrors.InternalError{Message: "encode request", Cause: err}
	}

	call := &pendingCall{method: method, ch: make(chan callResult, 1)}

	c.mu.Lock()
	if c.closed {
		closeErr := c.closeErr
		c.mu.Unlock()
		return nil, closeErr
	}
	c.pending[id] = call
	c.mu.Unlock()

	log.Trace(c.logger, "rpc send", slog.String(log.MethodKey, method), slog.String("payload", string(data)))

	if err := c.write(data); err != nil {
		c.removePending(id)
		protoErr := &cqerrors.ProtocolError{Message: "write to query server failed", Cause: err}
		c.shutdown(protoErr)
		return nil, protoErr
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case res := <-call.ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.resp.Error != nil {
			return nil, &cqerrors.RPCError{
				Method:  method,
				Code:    res.resp.Error.Code,
				Message: res.resp.Error.Message,
			}
		}
		return res.resp.Result, nil

	case <-timer:
		c.removePending(id)
		return nil, &cqerrors.TimeoutError{Operation: method, Duration: timeout}

	case <-ctx.Done():
		c.removePending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &cqerrors.TimeoutError{Operation: method, Duration: time.Since(start), Cause: ctx.Err()}
		}
		return nil, ctx.Err()
	}
}

// Notify sends a notification. It does not wait for anything.
func (c *Client) Notify(method string, params any) error {
	if err := c.Err(); err != nil {
		return err
	}
	note, err := rpc.NewNotification(method, params)
	if err != nil {
		return &cqerrors.InternalError{Message: "encode notification", Cause: err}
	}
	data, err := rpc.Marshal(note)
	if err != nil {
		return &cqerrors.InternalError{Message: "encode notification", Cause: err}
	}
	if err := c.write(data); err != nil {
		return &cqerrors.ProtocolError{Message: "write to query server failed", Cause: err}
	}
	return nil
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteMessage(c.w, data)
}

func (c *Client) removePending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// NewProgressID returns a fresh progress ID for request params.
func (c *Client) NewProgressID() int {
	return int(c.nextProgress.Add(1))
}

// WatchProgress routes progress notifications for id to fn until the
// returned function is called.
func (c *Client) WatchProgress(id int, fn ProgressListener) func() {
	c.mu.Lock()
	c.progress[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.progress, id)
		c.mu.Unlock()
	}
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown reason, or nil while the client is usable.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		return nil
	}
	return c.closeErr
}

// Close shuts the client down with reason, fails every pending call, and
// closes the write side of the stream.
func (c *Client) Close(reason error) error {
	if reason == nil {
		reason = &cqerrors.ProtocolError{Message: "client closed"}
	}
	c.shutdown(reason)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.w.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// ReaderDone is closed when the reader goroutine has returned.
func (c *Client) ReaderDone() <-chan struct{} {
	return c.readerDone
}

func (c *Client) shutdown(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = reason
	pending := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.progress = make(map[int]ProgressListener)
	c.mu.Unlock()

	for _, call := range pending {
		call.ch <- callResult{err: reason}
	}
	close(c.done)
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.readerDone)

	br := bufio.NewReader(r)
	consecutive := 0

	for {
		data, err := c.codec.ReadMessage(br)
		if err != nil {
			if isStreamClosed(err) {
				c.shutdown(&cqerrors.ProtocolError{Message: "query server closed its output", Cause: err})
				return
			}
			consecutive++
			c.logger.Warn("unreadable message from query server", log.Error(err), "consecutive", consecutive)
			if consecutive >= c.maxErrs {
				c.shutdown(&cqerrors.ProtocolError{Message: "too many unreadable messages from query server", Cause: err})
				return
			}
			continue
		}

		log.Trace(c.logger, "rpc recv", slog.String("payload", string(data)))

		msg, err := rpc.Decode(data)
		if err != nil {
			consecutive++
			c.logger.Warn("discarding malformed message from query server",
				"line", truncate(string(data), 200),
				log.Error(err),
				"consecutive", consecutive,
			)
			if consecutive >= c.maxErrs {
				c.shutdown(&cqerrors.ProtocolError{Message: "too many malformed messages from query server", Line: string(data), Cause: err})
				return
			}
			continue
		}
		consecutive = 0

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg rpc.Message) {
	switch m := msg.(type) {
	case *rpc.Response:
		c.complete(m)
	case *rpc.Notification:
		c.notify(m)
	case *rpc.Request:
		c.logger.Warn("query server sent an unsupported request", log.MethodKey, m.Method)
		c.reject(m)
	}
}

func (c *Client) complete(resp *rpc.Response) {
	if resp.ID.IsString {
		c.logger.Warn("dropping response with non-numeric id", "id", resp.ID.String())
		return
	}

	c.mu.Lock()
	call, ok := c.pending[resp.ID.Num]
	if ok {
		delete(c.pending, resp.ID.Num)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("dropping response for unknown or expired request", "id", resp.ID.Num)
		return
	}
	call.ch <- callResult{resp: resp}
}

func (c *Client) notify(n *rpc.Notification) {
	if update, ok := parseProgress(n); ok {
		c.mu.Lock()
		listener := c.progress[update.ID]
		c.mu.Unlock()
		if listener != nil {
			listener(update)
			return
		}
	}
	if c.handler != nil {
		c.handler(n.Method, n.Params)
	}
}

func (c *Client) reject(req *rpc.Request) {
	resp := &rpc.Response{
		ID:    req.ID,
		Error: &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not supported: " + req.Method},
	}
	data, err := rpc.Marshal(resp)
	if err != nil {
		return
	}
	if err := c.write(data); err != nil {
		c.logger.Debug("failed to reject server request", log.Error(err))
	}
}

// parseProgress extracts a progress update from either progress method.
func parseProgress(n *rpc.Notification) (ProgressUpdate, bool) {
	switch n.Method {
	case MethodProgressUpdated:
		var p struct {
			ID      int    `json:"id"`
			Step    int    `json:"step"`
			MaxStep int    `json:"maxStep"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return ProgressUpdate{}, false
		}
		return ProgressUpdate{ID: p.ID, Step: p.Step, MaxStep: p.MaxStep, Message: p.Message}, true

	case MethodEvaluationProgress:
		var p struct {
			ProgressID int    `json:"progressId"`
			Message    string `json:"message"`
		}
		if err := json.Unmarshal(n.Params, &p); err != nil {
			return ProgressUpdate{}, false
		}
		return ProgressUpdate{ID: p.ProgressID, Message: p.Message}, true
	}
	return ProgressUpdate{}, false
}

func isStreamClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
