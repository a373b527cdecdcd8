// Package cli implements the cdpctl command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/grantcarthew/cdpwire/internal/config"
	"github.com/grantcarthew/cdpwire/internal/observability"
)

// Version is set at build time.
var Version = "dev"

// Debug enables verbose debug output.
var Debug bool

// JSONOutput enables compact JSON output (the default pretty-prints on a TTY).
var JSONOutput bool

var cfgFile string

// Loaded by the root PersistentPreRunE before every subcommand.
var (
	cfg    *config.Config
	logger = zap.NewNop()
)

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:               "cdpctl",
	Short:             "Send Chrome DevTools Protocol commands from the shell",
	Long:              "cdpctl speaks the Chrome DevTools Protocol over a single WebSocket: send commands, wait for their responses and stream events.",
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./cdpwire.yaml)")
	flags.BoolVar(&Debug, "debug", false, "Enable verbose debug output")
	flags.BoolVar(&JSONOutput, "json", false, "Output compact JSON")
	flags.String("url", "", "CDP endpoint: ws://.../devtools/... or http://host:port")
	flags.Duration("timeout", 0, "Response timeout per command")
	flags.String("transport", "", "Socket transport: poll or stream")
	flags.Duration("poll-interval", 0, "Read poll interval for the poll transport")
	flags.String("correlation", "", "Response correlation: shared or keyed")
	flags.String("wire-log", "", "Write raw protocol traffic to this file (- for stderr)")
	rootCmd.SetVersionTemplate("cdpctl version {{.Version}}\n")
}

// flagKeys maps flags onto configuration keys.
var flagKeys = map[string]string{
	"url":           "url",
	"timeout":       "timeout",
	"transport":     "transport",
	"poll-interval": "poll_interval",
	"correlation":   "correlation",
	"wire-log":      "diagnostics.file",
	"chrome":        "browser.binary",
	"port":          "browser.port",
	"headless":      "browser.headless",
	"profile":       "browser.user_data_dir",
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	v, err := config.New(cfgFile)
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	if Debug {
		v.Set("logger.level", "debug")
	}

	c, err := config.NewConfigFromViper(v)
	if err != nil {
		return err
	}
	l, err := observability.NewLogger(c.Logger, zapcore.Lock(zapcore.AddSync(stderr)))
	if err != nil {
		return err
	}

	cfg, logger = c, l
	logger.Debug("configuration loaded",
		zap.String("url", cfg.URL),
		zap.String("transport", cfg.Transport),
		zap.String("correlation", cfg.Correlation),
		zap.Duration("timeout", cfg.Timeout))
	return nil
}

// bindFlags binds only the flags the user set, so unset flags do not mask
// values from the file or environment with their zero defaults.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}

// isStdoutTTY returns true if stdout is a terminal.
func isStdoutTTY() bool {
	f, ok := stdout.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// debugf logs a debug message if debug mode is enabled.
func debugf(format string, args ...any) {
	if Debug {
		logger.Debug(fmt.Sprintf(format, args...))
	}
}
