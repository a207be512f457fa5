package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/dubarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect the output to create a configuration template:

  dubarr config dump > config.yaml

Environment variables use the DUBARR_ prefix with underscores for nesting.
Example: server.port -> DUBARR_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := yaml.Marshal(configMap(reflect.ValueOf(cfg).Elem()))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# dubarr configuration (defaults)")
	fmt.Println("# Durations: 30s, 5m, 1h. Sizes: 500KB, 2GB.")
	fmt.Println("# Worker commands are deployment-specific and empty by default.")
	fmt.Print(string(data))
	return nil
}

// configMap renders a config struct as a YAML-friendly map, formatting
// durations and byte sizes in their human-readable input form.
func configMap(val reflect.Value) map[string]any {
	out := make(map[string]any)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}
		field := val.Field(i)

		switch v := field.Interface().(type) {
		case time.Duration:
			out[key] = config.FormatDuration(v)
		case config.ByteSize:
			out[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				out[key] = configMap(field)
			} else {
				out[key] = field.Interface()
			}
		}
	}
	return out
}
