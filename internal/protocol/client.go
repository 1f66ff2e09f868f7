// File: internal/protocol/client.go
package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmage20/linkedin-job-agent/internal/config"
)

var fastjson = jsoniter.ConfigCompatibleWithStandardLibrary

// execCommandContext is a seam for tests to intercept process creation.
var execCommandContext = exec.CommandContext

// request is the outbound JSON-RPC envelope. A nil ID marks a notification.
type request struct {
	JSONRPC string  `json:"jsonrpc"`
	ID      *uint64 `json:"id,omitempty"`
	Method  string  `json:"method"`
	Params  any     `json:"params,omitempty"`
}

// response is the inbound JSON-RPC envelope.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Client speaks newline-delimited JSON-RPC to a driver subprocess over its
// stdio. Calls from any goroutine are multiplexed over the single pipe pair;
// responses are correlated back by id. Every call settles exactly once: with
// the response, a TimeoutError, or ErrProcessTerminated.
type Client struct {
	cfg    config.DriverConfig
	logger *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	nextID  atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan *response
	closed    bool

	// done closes when the read loop exits; after that no response will ever
	// arrive and all outstanding calls have been failed.
	done  chan struct{}
	group *errgroup.Group

	stopOnce sync.Once
}

// NewClient constructs a client for the configured driver command. The
// subprocess is not launched until Start.
func NewClient(cfg config.DriverConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("protocol client requires a logger")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("protocol client requires a driver command")
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.Named("protocol"),
		pending: make(map[uint64]chan *response),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the driver subprocess, wires the pipe pumps, and performs
// the initialize handshake.
func (c *Client) Start(ctx context.Context) error {
	cmd := execCommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrProcessStart, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrProcessStart, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrProcessStart, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessStart, err)
	}
	c.cmd = cmd
	c.attach(stdin, stdout, stderr)
	c.logger.Info("Driver process started.",
		zap.String("command", c.cfg.Command),
		zap.Strings("args", c.cfg.Args),
		zap.Int("pid", cmd.Process.Pid))

	if err := c.handshake(ctx); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// attach wires the read loop and stderr drain onto the given pipes. Split out
// from Start so tests can drive the client over in-memory pipes.
func (c *Client) attach(stdin io.WriteCloser, stdout io.Reader, stderr io.Reader) {
	c.stdin = stdin
	c.group = &errgroup.Group{}
	c.group.Go(func() error {
		c.readLoop(stdout)
		return nil
	})
	if stderr != nil {
		c.group.Go(func() error {
			c.drainStderr(stderr)
			return nil
		})
	}
}

// handshake performs the initialize request and initialized notification the
// driver expects before accepting tool calls.
func (c *Client) handshake(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]any{
			"name":    "linkedin-job-agent",
			"version": "1.0",
		},
		"capabilities": map[string]any{},
	}
	if _, err := c.Call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}
	if err := c.Notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// Call sends a request and blocks until it settles: response, timeout, or
// process termination. The configured CallTimeout applies on top of ctx.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	ch := make(chan *response, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.unregister(id)
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, ErrProcessTerminated
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-c.done:
		// The read loop fails every pending call before closing done, so a
		// settled response may already be buffered.
		select {
		case resp := <-ch:
			if resp != nil && resp.Error == nil {
				return resp.Result, nil
			}
		default:
		}
		return nil, ErrProcessTerminated
	case <-ctx.Done():
		// If the entry is still registered we own the settlement; otherwise
		// the read loop delivered concurrently and the response is buffered.
		if c.unregister(id) {
			c.logger.Warn("Call timed out.", zap.String("method", method), zap.Uint64("id", id))
			return nil, &TimeoutError{Method: method, After: c.cfg.CallTimeout}
		}
		resp := <-ch
		if resp == nil {
			return nil, ErrProcessTerminated
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// Notify sends a fire-and-forget notification (no id, no response).
func (c *Client) Notify(method string, params any) error {
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return ErrClientClosed
	}
	c.pendingMu.Unlock()
	return c.write(request{JSONRPC: "2.0", Method: method, Params: params})
}

// write serializes and sends one frame. A single writer mutex keeps frames
// from interleaving on the pipe.
func (c *Client) write(req request) error {
	payload, err := fastjson.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(payload); err != nil {
		return fmt.Errorf("%w: write: %v", ErrProcessTerminated, err)
	}
	return nil
}

// unregister removes a pending entry, reporting whether it was still present.
func (c *Client) unregister(id uint64) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		return true
	}
	return false
}

// readLoop consumes stdout line by line until EOF. Malformed lines and
// unsolicited ids are logged and dropped; they never crash the loop.
func (c *Client) readLoop(stdout io.Reader) {
	defer func() {
		c.failPending()
		close(c.done)
	}()

	scanner := bufio.NewScanner(stdout)
	maxLine := c.cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = 16 * 1024 * 1024
	}
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := fastjson.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("Dropping malformed protocol line.",
				zap.Int("bytes", len(line)), zap.Error(err))
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; the loop does not act on them.
			c.logger.Debug("Ignoring driver notification.")
			continue
		}
		c.settle(*resp.ID, &resp)
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("Protocol read loop ended.", zap.Error(err))
	}
}

// settle delivers a response to its waiting call, exactly once. Responses for
// unknown ids (late arrivals after a timeout) are dropped.
func (c *Client) settle(id uint64, resp *response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("Dropping response for unknown id.", zap.Uint64("id", id))
		return
	}
	ch <- resp
}

// failPending settles every outstanding call as terminated. After this the
// pending table is empty; a nil delivery means ErrProcessTerminated.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- nil
	}
}

// drainStderr forwards driver diagnostics into the log so they are not lost.
func (c *Client) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			c.logger.Debug("driver stderr", zap.String("line", line))
		}
	}
}

// Close shuts the client down: refuse new calls, close stdin to signal the
// driver, then escalate SIGTERM and SIGKILL after the grace period. Safe to
// call more than once.
func (c *Client) Close() error {
	var closeErr error
	c.stopOnce.Do(func() {
		c.pendingMu.Lock()
		c.closed = true
		c.pendingMu.Unlock()

		if c.stdin != nil {
			_ = c.stdin.Close()
		}

		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Signal(syscall.SIGTERM)

			grace := c.cfg.ShutdownGrace
			if grace <= 0 {
				grace = 5 * time.Second
			}
			select {
			case <-c.done:
				// Reader saw EOF; the process is on its way out.
			case <-time.After(grace):
				c.logger.Warn("Driver did not exit in grace period; killing.")
				_ = c.cmd.Process.Kill()
			}
			closeErr = c.cmd.Wait()
		} else if c.group != nil {
			<-c.done
		}

		if c.group != nil {
			_ = c.group.Wait()
		}
		c.logger.Info("Protocol client closed.")
	})
	return closeErr
}

// PendingCount reports the number of unsettled calls. Used by tests to verify
// the pending table drains.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}
