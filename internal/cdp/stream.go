package cdp

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single frame write on the stream transport.
const writeTimeout = 10 * time.Second

// DialStream connects using a message-level WebSocket library that owns the
// socket and framing. It offers the same contract as Connect without the
// polling reader.
func DialStream(ctx context.Context, wsURL string, opts ...Option) (*Transport, error) {
	o := newOptions(opts)

	dialCtx, cancel := context.WithTimeout(ctx, o.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, &ConnectionError{URL: wsURL, Err: err}
	}
	conn.SetReadLimit(o.maxMessageSize)

	return NewStreamTransport(wsURL, conn, opts...), nil
}

// NewStreamTransport wraps an established connection in a Transport.
func NewStreamTransport(url string, conn Conn, opts ...Option) *Transport {
	o := newOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return newTransport(url, &streamBackend{conn: conn, ctx: ctx, cancel: cancel}, o)
}

type streamBackend struct {
	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *streamBackend) run(deliver func([]byte)) error {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return err
		}
		deliver(data)
	}
}

func (s *streamBackend) writeText(p []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, p)
}

func (s *streamBackend) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(websocket.StatusNormalClosure, "client closing")
		s.cancel()
	})
	return s.closeErr
}
