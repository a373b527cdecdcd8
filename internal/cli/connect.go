package cli

import (
	"context"
	"io"
	"time"

	"github.com/grantcarthew/cdpwire/internal/browser"
	"github.com/grantcarthew/cdpwire/internal/cdp"
	"github.com/grantcarthew/cdpwire/internal/config"
	"github.com/grantcarthew/cdpwire/internal/observability"
)

// discoveryTimeout bounds the HTTP lookup of the WebSocket URL.
const discoveryTimeout = 5 * time.Second

// session is an open client plus the resources it holds.
type session struct {
	client *cdp.Client
	wire   io.WriteCloser
}

func (s *session) Close() error {
	err := s.client.Close()
	if s.wire != nil {
		_ = s.wire.Close()
	}
	return err
}

// clientOptions translates the loaded configuration into client options.
func clientOptions(c *config.Config, wire io.Writer) ([]cdp.Option, error) {
	correlation, err := cdp.ParseCorrelation(c.Correlation)
	if err != nil {
		return nil, err
	}
	opts := []cdp.Option{
		cdp.WithLogger(logger),
		cdp.WithTimeout(c.Timeout),
		cdp.WithPollInterval(c.PollInterval),
		cdp.WithChunkSize(c.ChunkSize),
		cdp.WithCorrelation(correlation),
	}
	if wire != nil {
		opts = append(opts, cdp.WithDiagnostics(wire))
	}
	return opts, nil
}

// connect resolves the configured endpoint and opens a client on it. Page
// targets are preferred when page is true.
func connect(ctx context.Context, page bool) (*session, error) {
	resolveCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	wsURL, err := browser.ResolveWebSocketURL(resolveCtx, cfg.URL, page)
	cancel()
	if err != nil {
		return nil, err
	}
	debugf("resolved %s to %s", cfg.URL, wsURL)

	wire := observability.NewWireLog(cfg.Diagnostics)
	var wireWriter io.Writer
	if wire != nil {
		wireWriter = wire
	}
	opts, err := clientOptions(cfg, wireWriter)
	if err != nil {
		return nil, err
	}

	var t *cdp.Transport
	if cfg.Transport == config.TransportStream {
		t, err = cdp.DialStream(ctx, wsURL, opts...)
	} else {
		t, err = cdp.Connect(ctx, wsURL, opts...)
	}
	if err != nil {
		if wire != nil {
			_ = wire.Close()
		}
		return nil, err
	}

	return &session{client: cdp.NewClient(t, opts...), wire: wire}, nil
}
