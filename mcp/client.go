package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// defaultCallTimeout bounds a single request/response round trip when the
// transport spec does not set one.
const defaultCallTimeout = 30 * time.Second

// rpc is the JSON-RPC layer beneath a Client: a stdio byte stream or HTTP
// POSTs. Implementations must be safe for concurrent calls.
type rpc interface {
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
	notify(ctx context.Context, method string, params any) error
	close() error
}

// Client drives the MCP handshake and tool operations over an rpc layer.
type Client struct {
	rpc     rpc
	name    string
	version string
	logger  *slog.Logger
	server  serverInfo
}

func newClient(conn rpc, name, version string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rpc: conn, name: name, version: version, logger: logger}
}

// Initialize performs the MCP handshake: the initialize call followed by the
// initialized notification. Must complete before any other method.
func (c *Client) Initialize(ctx context.Context) error {
	raw, err := c.rpc.call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    struct{}{},
		ClientInfo:      clientInfo{Name: c.name, Version: c.version},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("initialize: parse result: %w", err)
	}
	c.server = result.ServerInfo
	if result.ProtocolVersion != protocolVersion {
		c.logger.Warn("server speaks a different protocol revision",
			"server", c.server.Name, "theirs", result.ProtocolVersion, "ours", protocolVersion)
	}
	if err := c.rpc.notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	c.logger.Debug("mcp handshake complete",
		"server", c.server.Name, "version", c.server.Version)
	return nil
}

// ServerName returns the name the server reported during the handshake.
func (c *Client) ServerName() string { return c.server.Name }

// ListTools fetches the server's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.rpc.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var list toolList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("tools/list: parse result: %w", err)
	}
	return list.Tools, nil
}

// CallTool invokes one tool by name. A ToolCallResult with IsError set is a
// tool-level failure, not a transport error; callers decide how to surface it.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (ToolCallResult, error) {
	raw, err := c.rpc.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: args})
	if err != nil {
		return ToolCallResult{}, fmt.Errorf("tools/call %s: %w", name, err)
	}
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ToolCallResult{}, fmt.Errorf("tools/call %s: parse result: %w", name, err)
	}
	return result, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.rpc.close() }

// --- stream rpc ---

// stream speaks newline-delimited JSON-RPC over a reader/writer pair. It
// matches responses to in-flight calls by ID and drops everything else after
// logging it. Used by the stdio transport and, in tests, over in-memory pipes.
type stream struct {
	w       io.Writer
	writeMu sync.Mutex

	pending   map[int64]chan incoming
	pendingMu sync.Mutex
	nextID    atomic.Int64

	timeout time.Duration
	logger  *slog.Logger

	closeFn   func() error
	closeOnce sync.Once
	closeErr  error
	done      chan struct{} // closed by close()
	readDone  chan struct{} // closed when the read loop exits
}

// newStream starts the read loop over r and returns a stream writing to w.
// closeFn releases the underlying resources (pipes, process) and may be nil.
func newStream(r io.Reader, w io.Writer, closeFn func() error, timeout time.Duration, logger *slog.Logger) *stream {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &stream{
		w:        w,
		pending:  make(map[int64]chan incoming),
		timeout:  timeout,
		logger:   logger,
		closeFn:  closeFn,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

func (s *stream) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	req := request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}

	ch := make(chan incoming, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.write(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, fmt.Errorf("server error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		return msg.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("no response after %v", s.timeout)
	case <-s.done:
		return nil, errors.New("connection closed")
	case <-s.readDone:
		return nil, errors.New("server closed the connection")
	}
}

func (s *stream) notify(_ context.Context, method string, params any) error {
	req := request{JSONRPC: "2.0", Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = data
	}
	return s.write(req)
}

func (s *stream) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// close signals in-flight calls, releases the underlying resources, and
// waits for the read loop to drain. Safe to call more than once.
func (s *stream) close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
		<-s.readDone
	})
	return s.closeErr
}

func (s *stream) readLoop(r io.Reader) {
	defer close(s.readDone)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20) // 10MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg incoming
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Debug("discarding unparseable message", "error", err)
			continue
		}
		s.dispatch(msg)
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.done:
			// Expected when close tears the pipes down mid-read.
		default:
			s.logger.Debug("read loop ended", "error", err)
		}
	}
}

// dispatch routes one incoming message: responses go to the waiting call,
// server-initiated requests get a method-not-found reply, notifications are
// logged and dropped.
func (s *stream) dispatch(msg incoming) {
	if len(msg.ID) > 0 && msg.Method == "" {
		id, err := strconv.ParseInt(string(msg.ID), 10, 64)
		if err != nil {
			s.logger.Debug("response with non-numeric id", "id", string(msg.ID))
			return
		}
		s.pendingMu.Lock()
		ch, ok := s.pending[id]
		if ok {
			delete(s.pending, id)
		}
		s.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
		return
	}
	if msg.Method == "" {
		return
	}
	if len(msg.ID) > 0 {
		// Server-initiated request (sampling and friends). Not supported.
		s.logger.Debug("rejecting server request", "method", msg.Method)
		_ = s.write(response{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   &rpcError{Code: errCodeMethodNotFound, Message: "method not supported: " + msg.Method},
		})
		return
	}
	s.logger.Debug("ignoring server notification", "method", msg.Method)
}
