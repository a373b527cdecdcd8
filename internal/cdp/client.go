package cdp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Handler receives a subscribed event. Handlers run on the routing
// goroutine, one at a time and in arrival order, so a slow handler delays
// every later message. Handlers must not call Close.
type Handler func(Event)

// Client is a CDP protocol client.
type Client struct {
	transport *Transport
	log       *zap.Logger
	timeout   time.Duration
	msgID     atomic.Int64

	listenersMu sync.RWMutex
	listeners   map[string][]Handler

	responses correlator

	// state is StateAlive until Close or the connection ends, then StateClosed.
	state atomic.Int32

	// done signals that the routing loop has exited
	done chan struct{}
}

// NewClient creates a client over an established transport and starts
// routing its inbound messages.
func NewClient(t *Transport, opts ...Option) *Client {
	o := newOptions(opts)
	log := o.logger.Named("client")
	c := &Client{
		transport: t,
		log:       log,
		timeout:   o.timeout,
		listeners: make(map[string][]Handler),
		responses: newCorrelator(o.correlation, o.timeout, log),
		done:      make(chan struct{}),
	}
	go c.route()
	return c
}

// Dial connects to a CDP WebSocket endpoint with the polling transport and
// returns a new client.
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Client, error) {
	t, err := Connect(ctx, wsURL, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(t, opts...), nil
}

// Command sends a CDP command and returns its ID without waiting for the
// response. Pair it with Wait.
func (c *Client) Command(method string, params interface{}) (int64, error) {
	if c.State() != StateAlive {
		return 0, ErrClosed
	}
	if params == nil {
		params = struct{}{}
	}

	id := c.msgID.Add(1)
	c.responses.register(id)

	if err := c.transport.Send(Request{ID: id, Method: method, Params: params}); err != nil {
		c.responses.forget(id)
		return 0, fmt.Errorf("command %s: %w", method, err)
	}
	c.log.Debug("command sent", zap.Int64("id", id), zap.String("method", method))
	return id, nil
}

// Wait blocks until the response for id arrives or timeout elapses.
//
// It fails with ErrTimeout when the deadline passes, ErrDeadBrowser when
// the connection is lost first, and *BrowserError when the browser answers
// with an error. With the default shared correlation only one Wait should
// be outstanding at a time; responses for other IDs are discarded.
func (c *Client) Wait(id int64, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.WaitContext(ctx, id)
}

// WaitContext is Wait bounded by ctx instead of a timeout.
func (c *Client) WaitContext(ctx context.Context, id int64) (json.RawMessage, error) {
	msg, err := c.responses.wait(ctx, id)
	if err != nil {
		return nil, err
	}
	if hasPayload(msg.Error) {
		return nil, newBrowserError(msg.Error)
	}
	return msg.Result, nil
}

// Send sends a CDP command and waits for the response.
// Uses the client's default timeout.
func (c *Client) Send(method string, params interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.SendContext(ctx, method, params)
}

// SendContext sends a CDP command with a context for cancellation.
func (c *Client) SendContext(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id, err := c.Command(method, params)
	if err != nil {
		return nil, err
	}
	return c.WaitContext(ctx, id)
}

// Subscribe registers a handler for CDP events matching the given method.
// Multiple handlers can be registered for the same method; they run in
// registration order. It always returns true.
func (c *Client) Subscribe(method string, handler Handler) bool {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners[method] = append(c.listeners[method], handler)
	return true
}

// Close closes the transport and stops the routing loop. Pending Wait
// calls fail with ErrDeadBrowser. Calling Close again is a no-op.
func (c *Client) Close() error {
	if State(c.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}
	err := c.transport.Close()
	<-c.done
	return err
}

// State reports StateAlive while the client is running and StateClosed
// afterwards.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Done returns a channel that is closed when the routing loop exits,
// either after Close or because the connection was lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if it was lost rather
// than closed.
func (c *Client) Err() error {
	return c.transport.Err()
}

// route classifies every inbound message as an event or a response.
func (c *Client) route() {
	defer close(c.done)
	defer c.responses.close()

	for {
		msg, err := c.transport.Next(context.Background())
		if err != nil {
			if State(c.state.Swap(int32(StateClosed))) == StateAlive {
				c.log.Info("connection ended", zap.Error(c.transport.Err()))
			}
			return
		}
		if msg.IsEvent() {
			if c.State() != StateAlive {
				continue
			}
			c.dispatchEvent(Event{Method: msg.Method, Params: msg.Params})
			continue
		}
		c.responses.deliver(msg)
	}
}

// dispatchEvent calls all registered handlers for an event.
func (c *Client) dispatchEvent(evt Event) {
	c.listenersMu.RLock()
	handlers := c.listeners[evt.Method]
	c.listenersMu.RUnlock()

	for _, handler := range handlers {
		handler(evt)
	}
}

// hasPayload reports whether a raw field is present and not null.
func hasPayload(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
