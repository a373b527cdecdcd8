package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// DefaultPort is the default CDP debugging port.
const DefaultPort = 9222

// DefaultStartTimeout bounds how long Start waits for the debugging endpoint.
const DefaultStartTimeout = 30 * time.Second

// UserDataDirDefault selects the user's own Chrome profile.
const UserDataDirDefault = "default"

// LaunchOptions configures the Chrome process started by Start.
type LaunchOptions struct {
	// Binary overrides Chrome detection.
	Binary string

	// Headless runs the browser without a visible window.
	Headless bool

	// Port for CDP remote debugging. Zero means DefaultPort.
	Port int

	// UserDataDir is the browser profile directory:
	//   - "": a temporary directory, removed on Close
	//   - "default": the user's own Chrome profile
	//   - any other path: used as-is and kept
	UserDataDir string

	// StartTimeout bounds the wait for the debugging endpoint.
	StartTimeout time.Duration

	Logger *zap.Logger
}

func (o LaunchOptions) port() int {
	if o.Port == 0 {
		return DefaultPort
	}
	return o.Port
}

// buildArgs constructs the Chrome command line.
func buildArgs(opts LaunchOptions) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", opts.port()),
		"--remote-debugging-address=127.0.0.1",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-sync",
		"--disable-popup-blocking",
	}

	// Avoid keychain and password-store prompts.
	switch runtime.GOOS {
	case "darwin":
		args = append(args, "--use-mock-keychain")
	case "linux":
		args = append(args, "--password-store=basic")
	}

	if opts.Headless {
		args = append(args, "--headless")
	}
	if opts.UserDataDir != "" && opts.UserDataDir != UserDataDirDefault {
		args = append(args, "--user-data-dir="+opts.UserDataDir)
	}

	return append(args, "about:blank")
}

func createTempDataDir() (string, error) {
	return os.MkdirTemp("", "cdpwire-chrome-*")
}

// spawnProcess starts Chrome without waiting for it. ownsDir reports
// whether dataDir is a temporary directory created here.
func spawnProcess(binPath string, opts LaunchOptions) (cmd *exec.Cmd, dataDir string, ownsDir bool, err error) {
	switch opts.UserDataDir {
	case "":
		dataDir, err = createTempDataDir()
		if err != nil {
			return nil, "", false, fmt.Errorf("create temp dir: %w", err)
		}
		opts.UserDataDir = dataDir
		ownsDir = true
	case UserDataDirDefault:
	default:
		dataDir = opts.UserDataDir
	}

	cmd = exec.Command(binPath, buildArgs(opts)...)
	if err := cmd.Start(); err != nil {
		if ownsDir {
			_ = os.RemoveAll(dataDir)
		}
		return nil, "", false, fmt.Errorf("start browser: %w", err)
	}
	return cmd, dataDir, ownsDir, nil
}
