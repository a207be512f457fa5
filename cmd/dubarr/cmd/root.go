// Package cmd implements the CLI commands for dubarr.
package cmd

import (
	"fmt"

	"github.com/jmylchreest/dubarr/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "dubarr",
	Short:   "Video dubbing pipeline orchestration service",
	Version: version.Short(),
	Long: `dubarr orchestrates a multi-stage video dubbing pipeline: one uploaded
video plus an optional subtitle is walked, per target language, through
speaker diarization, machine translation, neural voice cloning, audio
stitching, and final muxing into a dubbed video.

The heavy lifting runs in external per-stage worker programs; dubarr owns
the durable task model, the single-flight scheduling of GPU work, and the
real-time progress channel.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/dubarr, $HOME/.dubarr)")
}

// mustBindPFlag binds a viper key to a flag and panics on error; binding
// only fails on programmer error.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}
