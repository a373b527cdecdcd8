package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantcarthew/cdpwire/internal/browser"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start Chrome with remote debugging and print its endpoint",
	Long: `Starts a local Chrome with the DevTools protocol enabled, prints its
HTTP endpoint and browser WebSocket URL, then keeps it running until
interrupted or until the browser exits.

Examples:
  cdpctl launch
  cdpctl launch --headless=false --port 9333
  cdpctl --url http://127.0.0.1:9333 targets`,
	Args: cobra.NoArgs,
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().String("chrome", "", "Chrome binary (default: detected)")
	launchCmd.Flags().Int("port", browser.DefaultPort, "Remote debugging port")
	launchCmd.Flags().Bool("headless", true, "Run without a visible window")
	launchCmd.Flags().String("profile", "", `Profile directory ("default" for your own, empty for a temporary one)`)
	rootCmd.AddCommand(launchCmd)
}

// launchInfo is what launch prints once the browser is ready.
type launchInfo struct {
	Endpoint     string `json:"endpoint"`
	WebSocketURL string `json:"webSocketDebuggerUrl"`
	PID          int    `json:"pid"`
}

func runLaunch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := browser.Start(ctx, browser.LaunchOptions{
		Binary:      cfg.Browser.Binary,
		Headless:    cfg.Browser.Headless,
		Port:        cfg.Browser.Port,
		UserDataDir: cfg.Browser.UserDataDir,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	resolveCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	wsURL, err := b.WebSocketURL(resolveCtx, false)
	cancel()
	if err != nil {
		return err
	}

	if err := printValue(launchInfo{Endpoint: b.Endpoint(), WebSocketURL: wsURL, PID: b.PID()}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Debug("interrupted, stopping browser")
	case <-b.Exited():
		logger.Info("browser exited", zap.Int("pid", b.PID()))
	}
	return nil
}
