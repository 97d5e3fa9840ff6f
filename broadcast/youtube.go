package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"

	"motionwatch/config"
	"motionwatch/logging"
	"motionwatch/timeutil"
)

// ErrStreamNotFound means no live stream is titled after the camera.
var ErrStreamNotFound = errors.New("live stream not found")

// scheduleLead is how far ahead the broadcast is scheduled.
const scheduleLead = 2 * time.Hour

// API is the part of the YouTube Data API the broadcaster drives.
type API interface {
	InsertBroadcast(ctx context.Context, title, description string, start time.Time) (string, error)
	FindStream(ctx context.Context, title string) (string, error)
	Bind(ctx context.Context, broadcastID, streamID string) error
	Transition(ctx context.Context, broadcastID, status string) error
	AddToPlaylist(ctx context.Context, playlistID, videoID string) error
}

// YouTube creates one unlisted broadcast per relay start and completes it on stop.
type YouTube struct {
	api   API
	cfg   config.YouTube
	ids   *cache.Cache
	clock timeutil.Clock
	log   zerolog.Logger
}

// NewYouTube remembers open broadcast ids for cfg.BroadcastTTL.
func NewYouTube(api API, cfg config.YouTube, clock timeutil.Clock) *YouTube {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &YouTube{
		api:   api,
		cfg:   cfg,
		ids:   cache.New(cfg.BroadcastTTL, 10*time.Minute),
		clock: clock,
		log:   logging.Component("youtube"),
	}
}

// Start schedules a broadcast, binds the camera's stream and goes live.
func (y *YouTube) Start(ctx context.Context, camera string) (string, error) {
	start := y.clock.Now().UTC().Add(scheduleLead)
	title, description := broadcastTitle(camera, start)

	id, err := y.api.InsertBroadcast(ctx, title, description, start)
	if err != nil {
		return "", fmt.Errorf("create broadcast: %w", err)
	}
	y.log.Info().Str("camera", camera).Str("broadcast", id).Msg("Scheduled broadcast created")

	streamID, err := y.api.FindStream(ctx, camera)
	if err != nil {
		return "", fmt.Errorf("find stream: %w", err)
	}
	if streamID == "" {
		return "", fmt.Errorf("%w: %q", ErrStreamNotFound, camera)
	}
	if err := y.api.Bind(ctx, id, streamID); err != nil {
		return "", fmt.Errorf("bind stream: %w", err)
	}

	if err := y.goLive(ctx, id); err != nil {
		return "", err
	}
	y.ids.Set(camera, id, cache.DefaultExpiration)

	if y.cfg.PlaylistID != "" {
		if err := y.api.AddToPlaylist(ctx, y.cfg.PlaylistID, id); err != nil {
			y.log.Warn().Err(err).Str("broadcast", id).Msg("Adding broadcast to playlist failed")
		}
	}

	y.log.Info().Str("camera", camera).Str("broadcast", id).Msg("Broadcast is now live")
	return y.cfg.VideoURL + id, nil
}

// goLive retries while the stream has not started sending yet.
func (y *YouTube) goLive(ctx context.Context, id string) error {
	attempts := max(y.cfg.GoLiveAttempts, 1)
	for attempt := 1; ; attempt++ {
		err := y.api.Transition(ctx, id, "live")
		if err == nil {
			return nil
		}
		if !streamInactive(err) {
			return fmt.Errorf("transition %s to live: %w", id, err)
		}
		if attempt >= attempts {
			return fmt.Errorf("failed to make broadcast %s live after %d attempts: %w", id, attempts, err)
		}

		y.log.Info().Int("attempt", attempt).Dur("retry_in", y.cfg.GoLiveRetryDelay).Msg("Stream is inactive, retrying")
		select {
		case <-ctx.Done():
			return fmt.Errorf("transition %s to live: %w", id, ctx.Err())
		case <-y.clock.After(y.cfg.GoLiveRetryDelay):
		}
	}
}

// Stop completes the camera's open broadcast and forgets it.
func (y *YouTube) Stop(ctx context.Context, camera string) error {
	v, ok := y.ids.Get(camera)
	if !ok {
		y.log.Debug().Str("camera", camera).Msg("No broadcast id found")
		return nil
	}
	y.ids.Delete(camera)

	id := v.(string)
	if err := y.api.Transition(ctx, id, "complete"); err != nil {
		return fmt.Errorf("complete broadcast %s: %w", id, err)
	}
	y.log.Info().Str("camera", camera).Str("broadcast", id).Msg("Broadcast completed")
	return nil
}

// Open returns the camera's open broadcast id.
func (y *YouTube) Open(camera string) (string, bool) {
	v, ok := y.ids.Get(camera)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func broadcastTitle(camera string, start time.Time) (title, description string) {
	first := camera
	if fields := strings.Fields(camera); len(fields) > 0 {
		first = fields[0]
	}
	return fmt.Sprintf("%s %s", first, start.Format("2006-01-02T15:04:05")),
		fmt.Sprintf("This stream is scheduled via the API for %s", camera)
}

func streamInactive(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != 403 {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == "errorStreamInactive" {
			return true
		}
	}
	return strings.Contains(gerr.Message, "Stream is inactive") || strings.Contains(gerr.Body, "Stream is inactive")
}
