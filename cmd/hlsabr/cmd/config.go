package cmd

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/hlsabr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing hlsabr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Without a config file or HLSABR_ environment this prints the defaults,
which makes a starting template:

  hlsabr config dump > .hlsabr.yaml

Environment variables use the HLSABR_ prefix and underscores for nesting.
Example: buffer.max_bytes -> HLSABR_BUFFER_MAX_BYTES`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and byte sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = strings.ToLower(fieldType.Name)
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return dumpConfig(cmd.OutOrStdout(), cfg)
}

func dumpConfig(out io.Writer, cfg *config.Config) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(out, "# hlsabr Configuration File")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Duration format: 500ms, 10s, 1m")
	fmt.Fprintln(out, "# Size format: 4MB, 30MB")
	fmt.Fprintln(out, "#")
	fmt.Fprintln(out, "# Environment variable overrides:")
	fmt.Fprintln(out, "#   HLSABR_ABR_MANUAL_BITRATE, HLSABR_BUFFER_MAX_BYTES")
	fmt.Fprintln(out, "#   HLSABR_HISTORY_ENABLED, HLSABR_HISTORY_DSN")
	fmt.Fprintln(out, "#   HLSABR_LOGGING_LEVEL, HLSABR_LOGGING_FORMAT")
	fmt.Fprintln(out, "#   etc.")
	fmt.Fprintln(out)
	_, err = io.WriteString(out, string(yamlData))
	return err
}
