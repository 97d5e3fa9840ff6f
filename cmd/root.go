package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"motionwatch/config"
	"motionwatch/logging"
)

var cfgFile string
var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "motionwatch",
	Short: "Watch camera streams and relay them while a target is in view",
	Long: `motionwatch samples every configured camera, confirms sustained motion
with an object detector and starts a live relay while a target is present.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level from the config file")
}

// setupLogging installs the global logger from the config, honoring --log-level.
func setupLogging(cfg *config.Config) (io.Closer, error) {
	opts := cfg.Log
	if logLevel != "" {
		opts.Level = logLevel
	}
	return logging.Setup(opts)
}
