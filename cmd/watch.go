package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"motionwatch/broadcast"
	"motionwatch/capture"
	"motionwatch/config"
	"motionwatch/detection"
	"motionwatch/logging"
	"motionwatch/notify"
	"motionwatch/relay"
	"motionwatch/scheduler"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the motion scheduler for every configured camera",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		closer, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, cfg *config.Config) error {
	log := logging.Component("watch")

	detector, closeDetector, err := buildDetector(cfg)
	if err != nil {
		return err
	}
	defer closeDetector()

	broadcaster, err := buildBroadcaster(ctx, cfg)
	if err != nil {
		return err
	}

	notifier, closeNotifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	relays := relay.NewManager(cfg, relay.Options{
		Broadcaster: broadcaster,
		Notifier:    notifier,
	})

	frames := capture.NewSampler(cfg.Discard.Motion, capture.OpenVideoCapture)
	sched := scheduler.New(cfg, frames, detector, relays, scheduler.Options{})

	log.Info().
		Int("cameras", len(cfg.Cameras)).
		Int("workers", cfg.WorkerCount()).
		Dur("interval", cfg.CheckInterval).
		Str("detection", cfg.Detection.Mode).
		Msg("Starting motion watch")

	err = sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeouts.Pipeline)
	defer cancel()
	relays.StopAll(shutdownCtx)

	log.Info().Msg("Motion watch stopped")
	return err
}

// buildDetector returns the configured detector and a func releasing it.
func buildDetector(cfg *config.Config) (detection.Detector, func(), error) {
	if cfg.Detection.Mode == "remote" {
		remote, err := detection.NewRemote(cfg.Detection.Endpoint, &http.Client{})
		if err != nil {
			return nil, nil, err
		}
		return remote, func() {}, nil
	}

	local, manager, err := buildLocalDetector(cfg.Detection, cfg.Discard.Detect)
	if err != nil {
		return nil, nil, err
	}
	return local, func() { manager.Close() }, nil
}

func buildLocalDetector(cfg config.Detection, discard int) (*detection.Local, *detection.ProviderManager, error) {
	manager := detection.NewProviderManager()
	err := manager.Initialize(detection.Model{
		Weights:   cfg.Weights,
		Config:    cfg.ModelConfig,
		Names:     cfg.Names,
		ImageSize: cfg.ImageSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load detection model: %w", err)
	}
	frames := capture.NewSampler(discard, capture.OpenVideoCapture)
	return detection.NewLocal(frames, manager, cfg), manager, nil
}

func buildBroadcaster(ctx context.Context, cfg *config.Config) (broadcast.Broadcaster, error) {
	if !cfg.YouTube.Enabled {
		return broadcast.Noop{}, nil
	}
	svc, err := broadcast.NewService(ctx, cfg.YouTube)
	if err != nil {
		return nil, err
	}
	return broadcast.NewYouTube(svc, cfg.YouTube, nil), nil
}

func buildNotifier(cfg *config.Config) (notify.Notifier, func(), error) {
	notifiers := notify.Multi{notify.NewWebhook(cfg.Cameras, cfg.Notify.WebhookTimeout, &http.Client{})}
	if cfg.Notify.MQTT.Broker == "" {
		return notifiers, func() {}, nil
	}
	m, err := notify.DialMQTT(cfg.Notify.MQTT)
	if err != nil {
		return nil, nil, err
	}
	notifiers = append(notifiers, m)
	return notifiers, func() { m.Close() }, nil
}
