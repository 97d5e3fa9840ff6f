// Package scheduler drives every camera's escalation policy on a fixed
// polling cadence with a join barrier between ticks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"motionwatch/capture"
	"motionwatch/config"
	"motionwatch/escalation"
	"motionwatch/logging"
	"motionwatch/motion"
	"motionwatch/timeutil"
)

const statsInterval = 15 * time.Second

// FrameSource acquires one frame for the motion check. The caller closes the Mat.
type FrameSource interface {
	Acquire(ctx context.Context, source string) (gocv.Mat, error)
}

// Classifier decides whether a frame shows motion. One instance per camera.
type Classifier interface {
	Classify(frame gocv.Mat) bool
	Close() error
}

// Options holds optional collaborators; zero values select production defaults.
type Options struct {
	Clock         timeutil.Clock
	NewClassifier func(config.Camera, config.Tuning) Classifier
}

type camera struct {
	name       string
	source     string
	classifier Classifier
	policy     *escalation.Policy
	log        zerolog.Logger
}

// Scheduler owns one CameraState per configured camera.
type Scheduler struct {
	cameras        []*camera
	frames         FrameSource
	interval       time.Duration
	workers        int
	captureTimeout time.Duration
	clock          timeutil.Clock
	stats          Stats
	log            zerolog.Logger
}

// New builds the per-camera state for every configured camera.
func New(cfg *config.Config, frames FrameSource, detector escalation.Detector, pipeline escalation.Pipeline, opts Options) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	newClassifier := opts.NewClassifier
	if newClassifier == nil {
		newClassifier = func(_ config.Camera, t config.Tuning) Classifier { return motion.NewEstimator(t) }
	}

	s := &Scheduler{
		frames:         frames,
		interval:       cfg.CheckInterval,
		workers:        cfg.WorkerCount(),
		captureTimeout: cfg.Timeouts.Capture,
		clock:          clock,
		log:            logging.Component("scheduler"),
	}

	for _, cc := range cfg.Cameras {
		tuning := cfg.Tuning(cc)
		cam := &camera{
			name:       cc.Name,
			source:     cc.MotionSource(),
			classifier: newClassifier(cc, tuning),
			policy: escalation.New(escalation.Options{
				Camera:          cc.Name,
				Source:          cc.StreamURL,
				Tuning:          tuning,
				DetectTimeout:   cfg.Timeouts.Detect,
				PipelineTimeout: cfg.Timeouts.Pipeline,
				Clock:           clock,
			}, detector, pipeline),
			log: logging.Camera("scheduler", cc.Name),
		}
		cam.log.Info().
			Str("primary", capture.Redact(cc.StreamURL)).
			Str("motion", capture.Redact(cam.source)).
			Msg("Camera registered")
		s.cameras = append(s.cameras, cam)
	}
	return s
}

// Run ticks until ctx is cancelled. The in-flight tick always completes;
// afterwards every active pipeline is released.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().
		Int("cameras", len(s.cameras)).
		Int("workers", s.workers).
		Dur("interval", s.interval).
		Msg("Starting motion detection")

	work := context.WithoutCancel(ctx)
	lastReport := s.clock.Now()

loop:
	for {
		s.Tick(work)

		if s.clock.Since(lastReport) >= statsInterval {
			s.stats.Snapshot().log(s.log)
			lastReport = s.clock.Now()
		}

		select {
		case <-ctx.Done():
			break loop
		case <-s.clock.After(s.interval):
		}
	}

	s.log.Info().Msg("Shutting down, releasing active pipelines")
	s.shutdown(work)
	s.stats.Snapshot().log(s.log)
	return nil
}

// Tick runs one scheduling round: every camera in parallel, bounded by the
// worker pool, returning once all of them finished.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.clock.Now()

	var g errgroup.Group
	g.SetLimit(max(s.workers, 1))
	for _, cam := range s.cameras {
		g.Go(func() error {
			s.runCamera(ctx, cam)
			return nil
		})
	}
	_ = g.Wait()

	s.stats.observeTick(s.clock.Since(start))
}

func (s *Scheduler) runCamera(ctx context.Context, cam *camera) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.Panics.Add(1)
			cam.log.Error().Interface("panic", r).Msg("Camera tick panicked")
		}
	}()
	s.stats.CameraTicks.Add(1)

	moving := s.classify(ctx, cam)
	if moving {
		s.stats.MotionTicks.Add(1)
	}

	tr := cam.policy.Advance(ctx, moving)
	if tr.Escalated {
		s.stats.Escalations.Add(1)
	}
	if tr.Confirmed {
		s.stats.Confirmed.Add(1)
	}
	if tr.Started {
		s.stats.Starts.Add(1)
	}
	if tr.Released {
		s.stats.Stops.Add(1)
	}
	if tr.From != tr.To {
		cam.log.Debug().Stringer("from", tr.From).Stringer("to", tr.To).Msg("State changed")
	}
}

// classify treats a missing frame as a still tick.
func (s *Scheduler) classify(ctx context.Context, cam *camera) bool {
	cctx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	defer cancel()

	frame, err := s.frames.Acquire(cctx, cam.source)
	if err != nil {
		s.stats.FramesMissing.Add(1)
		ev := cam.log.Debug()
		if !errors.Is(err, capture.ErrSourceUnavailable) && !errors.Is(err, capture.ErrBusy) {
			ev = cam.log.Warn()
		}
		ev.Err(err).Msg("No frame this tick")
		return false
	}
	defer frame.Close()

	return cam.classifier.Classify(frame)
}

func (s *Scheduler) shutdown(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(max(s.workers, 1))
	for _, cam := range s.cameras {
		g.Go(func() error {
			if cam.policy.Shutdown(ctx) {
				s.stats.Stops.Add(1)
			}
			return cam.classifier.Close()
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn().Err(err).Msg("Releasing camera state failed")
	}
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Status returns one camera's policy status.
func (s *Scheduler) Status(name string) (escalation.Status, error) {
	for _, cam := range s.cameras {
		if cam.name == name {
			return cam.policy.Status(), nil
		}
	}
	return escalation.Status{}, fmt.Errorf("unknown camera %q", name)
}
