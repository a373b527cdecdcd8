package cdp

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the default timeout for CDP commands.
	DefaultTimeout = 30 * time.Second

	// DefaultPollInterval bounds each socket read attempt of the polling transport.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultChunkSize is the number of bytes requested per socket read.
	DefaultChunkSize = 512

	// DefaultMaxMessageSize caps a single reassembled message.
	DefaultMaxMessageSize = 64 << 20
)

// Correlation selects how Wait matches responses to commands.
type Correlation int

const (
	// CorrelationShared pops responses from one shared FIFO and discards
	// any whose ID does not match. Correct only while a single Wait is
	// outstanding per client.
	CorrelationShared Correlation = iota

	// CorrelationKeyed delivers each response to a slot registered for its
	// ID, so any number of Command/Wait pairs may overlap.
	CorrelationKeyed
)

// String returns the configuration name of the mode.
func (c Correlation) String() string {
	switch c {
	case CorrelationShared:
		return "shared"
	case CorrelationKeyed:
		return "keyed"
	default:
		return "unknown"
	}
}

// ParseCorrelation converts a configuration name to a Correlation.
func ParseCorrelation(s string) (Correlation, error) {
	switch s {
	case "", "shared":
		return CorrelationShared, nil
	case "keyed":
		return CorrelationKeyed, nil
	default:
		return 0, fmt.Errorf("unknown correlation mode %q (want shared or keyed)", s)
	}
}

// Option configures a Transport or Client.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	wire           *wireLog
	pollInterval   time.Duration
	chunkSize      int
	maxMessageSize int64
	dialTimeout    time.Duration
	timeout        time.Duration
	correlation    Correlation
}

func newOptions(opts []Option) options {
	o := options{
		logger:         zap.NewNop(),
		pollInterval:   DefaultPollInterval,
		chunkSize:      DefaultChunkSize,
		maxMessageSize: DefaultMaxMessageSize,
		dialTimeout:    10 * time.Second,
		timeout:        DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDiagnostics mirrors every raw outbound and inbound JSON message to w.
func WithDiagnostics(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.wire = &wireLog{w: w}
		}
	}
}

// WithPollInterval sets how long each socket read may block before the
// reader loops again.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithChunkSize sets the number of bytes requested per socket read.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithMaxMessageSize caps the size of a single inbound message.
func WithMaxMessageSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessageSize = n
		}
	}
}

// WithDialTimeout bounds the TCP connect and handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithTimeout sets the response timeout used by Client.Send.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCorrelation selects the response correlation strategy of a Client.
//
// With CorrelationKeyed every Command reserves a slot for its response.
// Collect it with Wait within the client timeout (WithTimeout) of its
// arrival; uncollected responses older than that are evicted and a later
// Wait for them fails.
func WithCorrelation(c Correlation) Option {
	return func(o *options) {
		o.correlation = c
	}
}

// wireLog serializes diagnostic writes from the sender and the reader.
type wireLog struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *wireLog) outbound(data []byte) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, ">>> %s\n", data)
}

func (l *wireLog) inbound(data []byte) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "    <<< %s\n", data)
}
