package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStartTimeout is returned when the debugging endpoint does not come up in time.
var ErrStartTimeout = errors.New("browser start timeout")

// ErrBrowserExited is returned when Chrome exits before its endpoint is ready.
var ErrBrowserExited = errors.New("browser exited during startup")

// killGrace is how long Close waits after an interrupt before killing.
const killGrace = 5 * time.Second

// Browser is a locally started Chrome with remote debugging enabled.
type Browser struct {
	cmd      *exec.Cmd
	port     int
	dataDir  string
	ownsData bool
	log      *zap.Logger

	exited    chan struct{}
	closeOnce sync.Once
}

// Start launches Chrome and waits until its HTTP debugging endpoint answers.
func Start(ctx context.Context, opts LaunchOptions) (*Browser, error) {
	binPath, err := FindChrome(opts.Binary)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cmd, dataDir, owns, err := spawnProcess(binPath, opts)
	if err != nil {
		return nil, err
	}
	b := &Browser{
		cmd:      cmd,
		port:     opts.port(),
		dataDir:  dataDir,
		ownsData: owns,
		log:      log,
		exited:   make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(b.exited)
	}()
	log.Debug("browser started", zap.String("binary", binPath), zap.Int("pid", b.PID()), zap.Int("port", b.port))

	timeout := opts.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.waitReady(waitCtx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// waitReady polls /json/version until it answers, the process exits or ctx ends.
func (b *Browser) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrStartTimeout
		case <-b.exited:
			return ErrBrowserExited
		case <-ticker.C:
			if _, err := FetchVersion(ctx, b.Endpoint()); err == nil {
				return nil
			}
		}
	}
}

// Endpoint returns the HTTP debugging endpoint, e.g. http://127.0.0.1:9222.
func (b *Browser) Endpoint() string {
	return fmt.Sprintf("http://127.0.0.1:%d", b.port)
}

// Port returns the CDP debugging port.
func (b *Browser) Port() int {
	return b.port
}

// PID returns the browser process ID.
func (b *Browser) PID() int {
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// WebSocketURL returns the socket of the first page target, or the
// browser-level socket when page is false.
func (b *Browser) WebSocketURL(ctx context.Context, page bool) (string, error) {
	return ResolveWebSocketURL(ctx, b.Endpoint(), page)
}

// Exited is closed once the browser process has exited.
func (b *Browser) Exited() <-chan struct{} {
	return b.exited
}

// Close interrupts the browser, kills it if it lingers and removes a
// temporary profile directory. It is safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if err := b.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			_ = b.cmd.Process.Kill()
		}
		select {
		case <-b.exited:
		case <-time.After(killGrace):
			b.log.Warn("browser ignored interrupt, killing", zap.Int("pid", b.PID()))
			_ = b.cmd.Process.Kill()
			<-b.exited
		}
		if b.ownsData && b.dataDir != "" {
			_ = os.RemoveAll(b.dataDir)
		}
		b.log.Debug("browser stopped", zap.Int("pid", b.PID()))
	})
	return nil
}
