// Package protocol implements the JSON-RPC 2.0 connection between the
// backend and the editor. It serves editor requests, pushes
// notifications, and supports the one server→editor request the
// breakpoint sync needs (powerShell/setBreakpoint).
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// HandlerFunc serves an incoming editor request. The returned value is
// marshaled as the result; a returned error becomes the RPC error.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler handles an incoming editor notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Conn is a JSON-RPC 2.0 connection over a MessageTransport.
type Conn struct {
	transport MessageTransport
	logger    *zap.Logger

	mu            sync.Mutex
	nextID        atomic.Int64
	pending       map[int64]chan *response
	handlers      map[string]HandlerFunc
	notifications map[string]NotificationHandler

	closed atomic.Bool
	done   chan struct{}
}

// request is an outgoing or incoming JSON-RPC request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is an outgoing or incoming JSON-RPC response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewConn creates a connection over the given transport.
func NewConn(transport MessageTransport, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		transport:     transport,
		logger:        logger,
		pending:       make(map[int64]chan *response),
		handlers:      make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationHandler),
		done:          make(chan struct{}),
	}
}

// Handle registers a request handler for a method. Must be called
// before Start.
func (c *Conn) Handle(method string, handler HandlerFunc) {
	c.mu.Lock()
	c.handlers[method] = handler
	c.mu.Unlock()
}

// OnNotification registers a handler for an incoming notification.
func (c *Conn) OnNotification(method string, handler NotificationHandler) {
	c.mu.Lock()
	c.notifications[method] = handler
	c.mu.Unlock()
}

// Start begins reading messages. It returns when the transport fails
// or the connection is closed.
func (c *Conn) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Close shuts the connection down and releases waiting callers.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	// Waiting callers return via c.done; clearing the map keeps
	// handleResponse from racing a send on a stale channel.
	c.mu.Lock()
	c.pending = make(map[int64]chan *response)
	c.mu.Unlock()

	return c.transport.Close()
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Done is closed when the connection shuts down, either by Close or by
// the transport reaching end of stream.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Call sends a request to the editor and waits for its response.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	if c.closed.Load() {
		return ErrShutdown
	}

	id := c.nextID.Add(1)
	ch := make(chan *response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := &request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := c.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a fire-and-forget notification to the editor.
func (c *Conn) Notify(method string, params any) error {
	if c.closed.Load() {
		return ErrShutdown
	}

	req := &request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
	return c.send(req)
}

// send marshals and writes one message.
func (c *Conn) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.transport.WriteMessage(data)
}

// readLoop reads messages until the connection closes.
func (c *Conn) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		data, err := c.transport.ReadMessage()
		if err != nil {
			if c.closed.Load() || err == io.EOF || err == io.ErrClosedPipe {
				// The editor went away; shut down so waiters unblock.
				c.Close()
				return
			}
			c.logger.Warn("read message", zap.Error(err))
			continue
		}

		c.dispatch(ctx, data)
	}
}

// dispatch routes one raw message: a response to a pending call, an
// incoming request, or a notification.
func (c *Conn) dispatch(ctx context.Context, data []byte) {
	id := gjson.GetBytes(data, "id")
	method := gjson.GetBytes(data, "method")

	switch {
	case id.Exists() && !method.Exists():
		// Response to one of our requests.
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("malformed response", zap.Error(err))
			return
		}
		c.handleResponse(&resp)

	case id.Exists():
		// Editor request expecting a reply.
		c.handleRequest(ctx, method.String(), id.Value(), data)

	case method.Exists():
		c.handleNotification(ctx, method.String(), data)
	}
}

func (c *Conn) handleResponse(resp *response) {
	if c.closed.Load() {
		return
	}

	id, ok := responseID(resp.ID)
	if !ok {
		c.logger.Warn("response with non-numeric id")
		return
	}

	c.mu.Lock()
	ch, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if found {
		select {
		case ch <- resp:
		default:
		}
	}
}

func responseID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	default:
		return 0, false
	}
}

// handleRequest runs the registered handler and writes the response.
// Handlers run on their own goroutine so a slow request never blocks
// the read loop.
func (c *Conn) handleRequest(ctx context.Context, method string, id any, data []byte) {
	c.mu.Lock()
	handler, ok := c.handlers[method]
	c.mu.Unlock()

	if !ok {
		c.reply(id, nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", method)})
		return
	}

	params := json.RawMessage(gjson.GetBytes(data, "params").Raw)

	go func() {
		result, err := handler(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				c.reply(id, nil, &RPCError{Code: CodeRequestCancelled, Message: "request cancelled"})
				return
			}
			c.reply(id, nil, NewHandlerError(err))
			return
		}
		c.reply(id, result, nil)
	}()
}

// reply writes a response for an incoming request.
func (c *Conn) reply(id any, result any, rpcErr *RPCError) {
	resp := &response{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("marshal result: %v", err)}
		} else {
			resp.Result = data
		}
	}
	if err := c.send(resp); err != nil && !c.closed.Load() {
		c.logger.Warn("send response", zap.Error(err))
	}
}

func (c *Conn) handleNotification(ctx context.Context, method string, data []byte) {
	c.mu.Lock()
	handler, ok := c.notifications[method]
	c.mu.Unlock()

	if ok && handler != nil {
		params := json.RawMessage(gjson.GetBytes(data, "params").Raw)
		go handler(ctx, params)
	}
}
