// Package config provides configuration management for hlsabr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultSafetyFraction     = 0.75
	defaultUpgradeThreshold   = 5 * time.Second
	defaultDowngradeThreshold = 10 * time.Second
	defaultMaxBufferBytes     = "30MB"
	defaultMaxManifestBytes   = "4MB"
	defaultUserAgent          = "HLS Player"
	defaultTransportTimeout   = 30 * time.Second
	defaultRetryAttempts      = 2
	defaultRetryDelay         = 500 * time.Millisecond
	defaultRetryMaxDelay      = 10 * time.Second
	defaultBackoffMultiplier  = 2.0
	defaultCircuitThreshold   = 5
	defaultCircuitTimeout     = 30 * time.Second
	defaultBandwidthWindow    = 20
	defaultServerPort         = 8089
	defaultReportSchedule     = "@every 10s"
)

// Config holds all configuration for the application.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	ABR       ABRConfig       `mapstructure:"abr"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Manifest  ManifestConfig  `mapstructure:"manifest"`
	Demux     DemuxConfig     `mapstructure:"demux"`
	Transport TransportConfig `mapstructure:"transport"`
	Bandwidth BandwidthConfig `mapstructure:"bandwidth"`
	History   HistoryConfig   `mapstructure:"history"`
	Server    ServerConfig    `mapstructure:"server"`
	Report    ReportConfig    `mapstructure:"report"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RedactContaining masks any logged string containing one of these markers.
	RedactContaining []string `mapstructure:"redact_containing"`
}

// ABRConfig holds variant selection configuration.
type ABRConfig struct {
	// SafetyFraction scales the bandwidth estimate before picking a variant.
	SafetyFraction float64 `mapstructure:"safety_fraction"`
	// InitialBitrate is the bootstrap hint used until an estimate exists.
	InitialBitrate int `mapstructure:"initial_bitrate"`
	// ManualBitrate pins selection below this bitrate when > 0.
	ManualBitrate int `mapstructure:"manual_bitrate"`
	// UpgradeThreshold is the buffered duration required before switching up.
	UpgradeThreshold time.Duration `mapstructure:"upgrade_threshold"`
	// DowngradeThreshold is the buffered duration at or below which switching down is allowed.
	DowngradeThreshold time.Duration `mapstructure:"downgrade_threshold"`
}

// BufferConfig holds sample buffer configuration.
type BufferConfig struct {
	// MaxBytes is the buffered-byte ceiling that gates new fetches.
	// Supports human-readable values like "30MB" or raw byte counts.
	MaxBytes ByteSize `mapstructure:"max_bytes"`
}

// FetchConfig holds segment fetch configuration.
type FetchConfig struct {
	IVRule       string `mapstructure:"iv_rule"`        // sequence, next_sequence
	OnParseError string `mapstructure:"on_parse_error"` // skip, retry
	UserAgent    string `mapstructure:"user_agent"`
}

// ManifestConfig holds manifest resolution configuration.
type ManifestConfig struct {
	Parser         string   `mapstructure:"parser"` // gohlslib, m3u8
	FallbackCodecs []string `mapstructure:"fallback_codecs"`
	MaxBytes       ByteSize `mapstructure:"max_bytes"`
}

// DemuxConfig holds demuxer selection.
type DemuxConfig struct {
	Engine string `mapstructure:"engine"` // mediacommon, astits
}

// TransportConfig holds HTTP transport configuration.
type TransportConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	CircuitThreshold  int           `mapstructure:"circuit_threshold"`
	CircuitTimeout    time.Duration `mapstructure:"circuit_timeout"`
}

// BandwidthConfig holds bandwidth estimator configuration.
type BandwidthConfig struct {
	// WindowSize is the number of completed transfers in the estimate.
	WindowSize int `mapstructure:"window_size"`
}

// HistoryConfig holds fetch history persistence configuration.
type HistoryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// ServerConfig holds the status API configuration.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// ReportConfig holds periodic session report configuration.
type ReportConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 10s".
	// Empty disables reporting.
	Schedule string `mapstructure:"schedule"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSABR_ and use underscores for nesting.
// Example: HLSABR_BUFFER_MAX_BYTES=64MB.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hlsabr")
		v.AddConfigPath("$HOME/.hlsabr")
	}

	v.SetEnvPrefix("HLSABR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact_containing", []string{"token=", "signature="})

	// ABR defaults. Both thresholds are explicit values.
	v.SetDefault("abr.safety_fraction", defaultSafetyFraction)
	v.SetDefault("abr.initial_bitrate", 0)
	v.SetDefault("abr.manual_bitrate", 0)
	v.SetDefault("abr.upgrade_threshold", defaultUpgradeThreshold)
	v.SetDefault("abr.downgrade_threshold", defaultDowngradeThreshold)

	// Buffer defaults
	v.SetDefault("buffer.max_bytes", defaultMaxBufferBytes)

	// Fetch defaults
	v.SetDefault("fetch.iv_rule", "sequence")
	v.SetDefault("fetch.on_parse_error", "skip")
	v.SetDefault("fetch.user_agent", defaultUserAgent)

	// Manifest defaults
	v.SetDefault("manifest.parser", "gohlslib")
	v.SetDefault("manifest.fallback_codecs", []string{"avc1", "mp4a"})
	v.SetDefault("manifest.max_bytes", defaultMaxManifestBytes)

	// Demux defaults
	v.SetDefault("demux.engine", "mediacommon")

	// Transport defaults
	v.SetDefault("transport.timeout", defaultTransportTimeout)
	v.SetDefault("transport.retry_attempts", defaultRetryAttempts)
	v.SetDefault("transport.retry_delay", defaultRetryDelay)
	v.SetDefault("transport.retry_max_delay", defaultRetryMaxDelay)
	v.SetDefault("transport.backoff_multiplier", defaultBackoffMultiplier)
	v.SetDefault("transport.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("transport.circuit_timeout", defaultCircuitTimeout)

	// Bandwidth defaults
	v.SetDefault("bandwidth.window_size", defaultBandwidthWindow)

	// History defaults
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "hlsabr.db")
	v.SetDefault("history.log_level", "warn")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)

	// Report defaults
	v.SetDefault("report.schedule", defaultReportSchedule)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// ABR validation
	if c.ABR.SafetyFraction <= 0 || c.ABR.SafetyFraction > 1 {
		return fmt.Errorf("abr.safety_fraction must be in (0, 1]")
	}
	if c.ABR.InitialBitrate < 0 || c.ABR.ManualBitrate < 0 {
		return fmt.Errorf("abr bitrates must not be negative")
	}
	if c.ABR.UpgradeThreshold < 0 || c.ABR.DowngradeThreshold < 0 {
		return fmt.Errorf("abr thresholds must not be negative")
	}

	// Buffer validation
	if c.Buffer.MaxBytes <= 0 {
		return fmt.Errorf("buffer.max_bytes must be positive")
	}

	// Fetch validation
	validIVRules := map[string]bool{"sequence": true, "next_sequence": true}
	if !validIVRules[c.Fetch.IVRule] {
		return fmt.Errorf("fetch.iv_rule must be one of: sequence, next_sequence")
	}
	validPolicies := map[string]bool{"skip": true, "retry": true}
	if !validPolicies[c.Fetch.OnParseError] {
		return fmt.Errorf("fetch.on_parse_error must be one of: skip, retry")
	}

	// Manifest validation
	validParsers := map[string]bool{"gohlslib": true, "m3u8": true}
	if !validParsers[c.Manifest.Parser] {
		return fmt.Errorf("manifest.parser must be one of: gohlslib, m3u8")
	}

	// Demux validation
	validEngines := map[string]bool{"mediacommon": true, "astits": true}
	if !validEngines[c.Demux.Engine] {
		return fmt.Errorf("demux.engine must be one of: mediacommon, astits")
	}

	// Transport validation
	if c.Transport.RetryAttempts < 0 {
		return fmt.Errorf("transport.retry_attempts must not be negative")
	}

	// History validation
	if c.History.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.History.Driver] {
			return fmt.Errorf("history.driver must be one of: sqlite, postgres, mysql")
		}
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required")
		}
	}

	// Server validation
	const maxPort = 65535
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
