// Package config loads cdpwire settings from defaults, an optional YAML
// file, CDPWIRE_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "CDPWIRE"

// Transport names.
const (
	TransportPoll   = "poll"
	TransportStream = "stream"
)

// Config is the complete runtime configuration.
type Config struct {
	URL          string            `mapstructure:"url" yaml:"url"`
	Timeout      time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Transport    string            `mapstructure:"transport" yaml:"transport"`
	PollInterval time.Duration     `mapstructure:"poll_interval" yaml:"poll_interval"`
	ChunkSize    int               `mapstructure:"chunk_size" yaml:"chunk_size"`
	Correlation  string            `mapstructure:"correlation" yaml:"correlation"`
	Logger       LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Diagnostics  DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Browser      BrowserConfig     `mapstructure:"browser" yaml:"browser"`
}

// LoggerConfig holds the structured logger settings.
type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DiagnosticsConfig controls the raw wire log.
type DiagnosticsConfig struct {
	// File receives every raw JSON message. Empty disables the wire log;
	// "-" writes to stderr.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// BrowserConfig controls the Chrome instance started by "cdpctl launch".
type BrowserConfig struct {
	// Binary overrides Chrome detection.
	Binary      string `mapstructure:"binary" yaml:"binary"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Headless    bool   `mapstructure:"headless" yaml:"headless"`
	UserDataDir string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("url", "http://127.0.0.1:9222")
	v.SetDefault("timeout", "30s")
	v.SetDefault("transport", TransportPoll)
	v.SetDefault("poll_interval", "100ms")
	v.SetDefault("chunk_size", 512)
	v.SetDefault("correlation", "shared")

	// -- Logger --
	v.SetDefault("logger.level", "warn")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Diagnostics --
	v.SetDefault("diagnostics.file", "")
	v.SetDefault("diagnostics.max_size", 100)
	v.SetDefault("diagnostics.max_backups", 2)

	// -- Browser --
	v.SetDefault("browser.binary", "")
	v.SetDefault("browser.port", 9222)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_dir", "")
}

// New returns a viper instance with defaults and environment overrides
// wired up. If cfgFile is empty, ./cdpwire.yaml is used when present.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("cdpwire")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper decodes and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("url must use ws, wss, http or https, got %q", c.URL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.Transport != TransportPoll && c.Transport != TransportStream {
		return fmt.Errorf("transport must be %q or %q, got %q", TransportPoll, TransportStream, c.Transport)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("chunk_size must be a positive integer")
	}
	if c.Correlation != "shared" && c.Correlation != "keyed" {
		return fmt.Errorf("correlation must be shared or keyed, got %q", c.Correlation)
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	if c.Browser.Port < 0 || c.Browser.Port > 65535 {
		return fmt.Errorf("browser.port out of range: %d", c.Browser.Port)
	}
	return nil
}
