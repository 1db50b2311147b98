// Package cmd implements the CLI commands for hlsabr.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/hlsabr/internal/config"
	"github.com/jmylchreest/hlsabr/internal/observability"
	"github.com/jmylchreest/hlsabr/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "hlsabr",
	Short:   "Adaptive HLS segment streaming client",
	Version: version.Short(),
	Long: `hlsabr plays HLS presentations headlessly. It selects a variant from
the bitrate ladder, fetches and demultiplexes its segments into per-track
sample queues and adapts the variant to measured bandwidth and buffer health.

Completed fetches can be recorded to a database and the live session state
is available over a small HTTP API.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Not bound to viper: an explicitly set flag overrides env and config,
	// an unset one must not.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hlsabr.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hlsabr")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hlsabr")
	}

	viper.SetEnvPrefix("HLSABR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default logger. Priority is CLI flag, then
// HLSABR_LOGGING_* environment, then config file, then defaults.
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}
	viper.Set("logging.level", level)
	viper.Set("logging.format", strings.ToLower(format))

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	observability.SetDefault(observability.NewLoggerWithWriter(cfg.Logging, os.Stderr))
	return nil
}

// loadConfig returns the validated configuration assembled by viper.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
