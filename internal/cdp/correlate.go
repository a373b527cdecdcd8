package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// correlator matches inbound responses to waiting callers.
type correlator interface {
	// register prepares for a response to id. Called before the command is sent.
	register(id int64)
	// forget drops a registration whose command was never sent.
	forget(id int64)
	// deliver hands a response over from the router.
	deliver(msg *Message)
	// wait blocks until the response for id arrives, ctx ends or the
	// correlator is closed.
	wait(ctx context.Context, id int64) (*Message, error)
	// close wakes every waiter with ErrDeadBrowser. Idempotent.
	close()
}

// newCorrelator builds the correlator for mode. retention is how long the
// keyed correlator holds a delivered response that nobody waits for.
func newCorrelator(mode Correlation, retention time.Duration, log *zap.Logger) correlator {
	if mode == CorrelationKeyed {
		return &keyedCorrelator{
			slots:     make(map[int64]*slot),
			dead:      make(chan struct{}),
			retention: retention,
			lastSweep: time.Now(),
			log:       log,
		}
	}
	return &sharedCorrelator{responses: newQueue[*Message](), log: log}
}

// waitError maps a queue or context failure onto the Wait error kinds.
func waitError(id int64, err error) error {
	switch {
	case errors.Is(err, ErrClosed):
		return fmt.Errorf("command %d: %w", id, ErrDeadBrowser)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("command %d: %w", id, ErrTimeout)
	default:
		return fmt.Errorf("command %d: %w", id, err)
	}
}

func matchID(msg *Message, id int64) error {
	if msg.ID == nil || *msg.ID != id {
		return errIDMismatch
	}
	return nil
}

// sharedCorrelator keeps every response on one FIFO. A waiter discards
// responses that are not its own, so overlapping waits steal from each other.
type sharedCorrelator struct {
	responses *queue[*Message]
	log       *zap.Logger
}

func (c *sharedCorrelator) register(int64) {}

func (c *sharedCorrelator) forget(int64) {}

func (c *sharedCorrelator) deliver(msg *Message) {
	c.responses.push(msg)
}

func (c *sharedCorrelator) wait(ctx context.Context, id int64) (*Message, error) {
	for {
		msg, err := c.responses.pop(ctx)
		if err != nil {
			return nil, waitError(id, err)
		}
		if err := matchID(msg, id); err != nil {
			c.log.Debug("discarding response",
				zap.Int64("want", id),
				zap.Int64("got", msg.MessageID()),
				zap.Error(err))
			continue
		}
		return msg, nil
	}
}

func (c *sharedCorrelator) close() {
	c.responses.close()
}

// keyedCorrelator gives every command its own one-shot slot. A response
// that nobody collects within retention of its delivery is evicted on a
// later register, so fire-and-forget commands do not accumulate.
type keyedCorrelator struct {
	mu        sync.Mutex
	slots     map[int64]*slot
	dead      chan struct{}
	closed    bool
	retention time.Duration
	lastSweep time.Time
	log       *zap.Logger
}

type slot struct {
	ch        chan *Message
	delivered time.Time // zero until the response arrives
}

func (c *keyedCorrelator) register(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[id] = &slot{ch: make(chan *Message, 1)}

	now := time.Now()
	if now.Sub(c.lastSweep) < c.retention {
		return
	}
	c.lastSweep = now
	for k, sl := range c.slots {
		if !sl.delivered.IsZero() && now.Sub(sl.delivered) >= c.retention {
			delete(c.slots, k)
		}
	}
}

func (c *keyedCorrelator) forget(id int64) {
	c.mu.Lock()
	delete(c.slots, id)
	c.mu.Unlock()
}

func (c *keyedCorrelator) deliver(msg *Message) {
	c.mu.Lock()
	sl, ok := c.slots[msg.MessageID()]
	if ok && sl.delivered.IsZero() {
		sl.delivered = time.Now()
	}
	c.mu.Unlock()
	if !ok {
		c.log.Debug("dropping response with no pending command", zap.Int64("id", msg.MessageID()))
		return
	}
	select {
	case sl.ch <- msg:
	default:
		c.log.Debug("dropping duplicate response", zap.Int64("id", msg.MessageID()))
	}
}

func (c *keyedCorrelator) wait(ctx context.Context, id int64) (*Message, error) {
	c.mu.Lock()
	sl, ok := c.slots[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("command %d: no pending command with this id", id)
	}
	defer c.forget(id)

	select {
	case msg := <-sl.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, waitError(id, ctx.Err())
	case <-c.dead:
		// A response delivered before the connection died still counts.
		select {
		case msg := <-sl.ch:
			return msg, nil
		default:
		}
		return nil, waitError(id, ErrClosed)
	}
}

// pending returns the number of slots held.
func (c *keyedCorrelator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

func (c *keyedCorrelator) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.dead)
	}
}
