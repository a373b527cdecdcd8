package cdp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"
)

// closeFrameTimeout bounds the close frame write so Close stays prompt.
const closeFrameTimeout = time.Second

// Connect opens a TCP connection to the endpoint in rawURL, performs the
// WebSocket handshake and starts the polling reader. Any failure to reach
// the endpoint is reported as a *ConnectionError.
func Connect(ctx context.Context, rawURL string, opts ...Option) (*Transport, error) {
	o := newOptions(opts)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ConnectionError{URL: rawURL, Err: err}
	}
	addr, secure, err := dialAddress(u)
	if err != nil {
		return nil, &ConnectionError{URL: rawURL, Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{URL: rawURL, Err: err}
	}
	if secure {
		conn = tls.Client(conn, &tls.Config{ServerName: u.Hostname()})
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	br, _, err := ws.Dialer{}.Upgrade(conn, u)
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{URL: rawURL, Err: fmt.Errorf("websocket handshake: %w", err)}
	}
	_ = conn.SetDeadline(time.Time{})

	s := &socketBackend{
		conn:     conn,
		interval: o.pollInterval,
		chunk:    o.chunkSize,
		limit:    o.maxMessageSize,
		log:      o.logger.Named("socket"),
	}
	// The handshake reader may already hold the first frames.
	if br != nil {
		if n := br.Buffered(); n > 0 {
			s.pending, _ = br.Peek(n)
			s.pending = append([]byte(nil), s.pending...)
		}
		ws.PutReader(br)
	}

	t := newTransport(rawURL, s, o)
	t.log.Debug("connected", zap.String("addr", addr))
	return t, nil
}

func dialAddress(u *url.URL) (addr string, secure bool, err error) {
	switch u.Scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return "", false, fmt.Errorf("unsupported scheme %q (want ws or wss)", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", false, errors.New("missing host")
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if secure {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), secure, nil
}

// socketBackend reads a raw socket in small chunks with a bounded wait per
// attempt and decodes frames itself.
type socketBackend struct {
	conn     net.Conn
	interval time.Duration
	chunk    int
	limit    int64
	log      *zap.Logger
	pending  []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *socketBackend) run(deliver func([]byte)) error {
	f := newFramer(s.limit, deliver, s.pong)
	if len(s.pending) > 0 {
		if err := f.feed(s.pending); err != nil {
			return err
		}
		s.pending = nil
	}

	buf := make([]byte, s.chunk)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.interval))
		n, err := s.conn.Read(buf)
		if n > 0 {
			if ferr := f.feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// Nothing to read yet.
			continue
		}
		return err
	}
}

func (s *socketBackend) pong(payload []byte) {
	if err := s.writeFrame(ws.NewPongFrame(payload)); err != nil {
		s.log.Debug("failed to answer ping", zap.Error(err))
	}
}

func (s *socketBackend) writeText(p []byte) error {
	return s.writeFrame(ws.NewTextFrame(p))
}

// writeFrame masks the frame, as every client frame must be, and writes it.
func (s *socketBackend) writeFrame(f ws.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeFrameLocked(f, writeTimeout)
}

func (s *socketBackend) writeFrameLocked(f ws.Frame, timeout time.Duration) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return ws.WriteFrame(s.conn, ws.MaskFrameInPlace(f))
}

// close sends a close frame unless a write is in flight, then closes the
// socket. A writer stuck on a peer that stopped reading is released by the
// socket close, so close never waits on it.
func (s *socketBackend) close() error {
	s.closeOnce.Do(func() {
		if s.writeMu.TryLock() {
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "client closing")
			if err := s.writeFrameLocked(ws.NewCloseFrame(body), closeFrameTimeout); err != nil {
				s.log.Debug("failed to send close frame", zap.Error(err))
			}
			s.writeMu.Unlock()
		} else {
			s.log.Debug("write in flight, closing without close frame")
		}
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
