package cdp

import (
	"context"
	"fmt"
	"sync/atomic"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// State is the liveness of a connection.
type State int32

const (
	// StateAlive indicates the connection is open and being read.
	StateAlive State = iota
	// StateClosing indicates Close is in progress.
	StateClosing
	// StateClosed indicates the connection is gone. Terminal.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// backend moves whole text messages over a physical connection.
type backend interface {
	// run reads until the connection ends, calling deliver once per
	// complete message in arrival order.
	run(deliver func([]byte)) error
	writeText(p []byte) error
	// close sends a close frame and releases the connection. Safe to call
	// more than once.
	close() error
}

// Transport bridges a WebSocket connection to a stream of decoded messages.
// A background reader drains the socket into an unbounded inbound queue
// which Next consumes in arrival order.
type Transport struct {
	url     string
	backend backend
	log     *zap.Logger
	wire    *wireLog

	inbound *queue[*Message]
	state   atomic.Int32
	readErr atomic.Pointer[error]

	// done is closed when the reader has exited.
	done chan struct{}
}

func newTransport(url string, b backend, o options) *Transport {
	t := &Transport{
		url:     url,
		backend: b,
		log:     o.logger.Named("transport").With(zap.String("url", url)),
		wire:    o.wire,
		inbound: newQueue[*Message](),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// Send encodes v as JSON and writes it as a single text frame.
func (t *Transport) Send(v any) error {
	if t.State() != StateAlive {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Log before writing; the socket backend masks the buffer in place.
	t.wire.outbound(data)
	if err := t.backend.writeText(data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Next returns the next inbound message. After the connection ends it keeps
// returning buffered messages, then ErrClosed.
func (t *Transport) Next(ctx context.Context) (*Message, error) {
	return t.inbound.pop(ctx)
}

// Close sends a close frame and marks the connection closed. Idempotent.
func (t *Transport) Close() error {
	if !t.state.CompareAndSwap(int32(StateAlive), int32(StateClosing)) {
		return nil
	}
	err := t.backend.close()
	t.state.Store(int32(StateClosed))
	<-t.done
	t.log.Debug("transport closed")
	return err
}

// State returns the current liveness.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// Done returns a channel closed once the reader has stopped.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that ended the reader, if the connection was lost
// rather than closed locally.
func (t *Transport) Err() error {
	if p := t.readErr.Load(); p != nil {
		return *p
	}
	return nil
}

// URL returns the endpoint this transport is connected to.
func (t *Transport) URL() string {
	return t.url
}

func (t *Transport) readLoop() {
	defer close(t.done)

	err := t.backend.run(t.deliver)

	if t.state.CompareAndSwap(int32(StateAlive), int32(StateClosed)) {
		// Lost without a local Close.
		if err != nil {
			t.readErr.Store(&err)
		}
		_ = t.backend.close()
		t.log.Info("connection lost", zap.Error(err))
	}
	t.inbound.close()
}

func (t *Transport) deliver(data []byte) {
	t.wire.inbound(data)
	msg, err := decodeMessage(data)
	if err != nil {
		t.log.Warn("dropping undecodable message", zap.Error(err))
		return
	}
	t.inbound.push(msg)
}
