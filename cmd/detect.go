package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"motionwatch/config"
	"motionwatch/detection"
	"motionwatch/logging"
)

var listenAddr string

var detectServeCmd = &cobra.Command{
	Use:   "detect-serve",
	Short: "Serve the detection endpoint used by remote-mode watchers",
	Long: `detect-serve loads the local detection model and answers
GET /detect?rtsp_url=<stream> with the target labels currently in view.
It needs no cameras in the config file, only the detection block.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.ValidateDetection(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		closer, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		if listenAddr != "" {
			cfg.Detection.Listen = listenAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDetectServer(ctx, cfg)
	},
}

func init() {
	detectServeCmd.Flags().StringVar(&listenAddr, "listen", "", "bind address (default detection.listen)")
	rootCmd.AddCommand(detectServeCmd)
}

func runDetectServer(ctx context.Context, cfg *config.Config) error {
	local, manager, err := buildLocalDetector(cfg.Detection, cfg.Discard.Detect)
	if err != nil {
		return err
	}
	defer manager.Close()

	info := manager.Info()
	logging.Component("detect-serve").Info().
		Str("provider", info.Type).
		Str("listen", cfg.Detection.Listen).
		Strs("targets", cfg.Detection.Targets).
		Msg("Detection server ready")

	srv := detection.NewServer(local, manager.Info, cfg.Timeouts.Detect)
	return srv.ListenAndServe(ctx, cfg.Detection.Listen)
}
