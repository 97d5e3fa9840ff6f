package detection

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"motionwatch/capture"
	"motionwatch/config"
	"motionwatch/logging"
	"motionwatch/overlay"
)

// FrameSource acquires a frame from a source locator. The caller closes the Mat.
type FrameSource interface {
	Acquire(ctx context.Context, source string) (gocv.Mat, error)
}

// Local runs the network in-process against a freshly captured frame.
type Local struct {
	frames     FrameSource
	provider   InferenceProvider
	targets    map[string]bool
	confidence float64
	snapshots  *overlay.Snapshotter
	log        zerolog.Logger
}

// NewLocal builds a local detector. Snapshots are written only when
// cfg.SnapshotDir is set.
func NewLocal(frames FrameSource, provider InferenceProvider, cfg config.Detection) *Local {
	l := &Local{
		frames:     frames,
		provider:   provider,
		targets:    TargetSet(cfg.Targets),
		confidence: cfg.Confidence,
		log:        logging.Component("detect"),
	}
	if cfg.SnapshotDir != "" {
		l.snapshots = overlay.NewSnapshotter(cfg.SnapshotDir)
	}
	return l
}

type inference struct {
	labels []string
	err    error
}

// Detect captures one frame from source and returns the target labels present.
// The inference itself keeps running after ctx expires; its result is dropped.
func (l *Local) Detect(ctx context.Context, source string) ([]string, error) {
	frame, err := l.frames.Acquire(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}

	done := make(chan inference, 1)
	go func() {
		defer frame.Close()
		labels, err := l.infer(frame, source)
		done <- inference{labels: labels, err: err}
	}()

	select {
	case r := <-done:
		return r.labels, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("detection abandoned: %w", ctx.Err())
	}
}

func (l *Local) infer(frame gocv.Mat, source string) ([]string, error) {
	raw, err := l.provider.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	for i := 0; i < raw.Len(); i++ {
		l.log.Debug().
			Str("source", capture.Redact(source)).
			Msgf("Detected: %s", FormatLabel(raw.ClassNames[i], raw.Confidences[i]))
	}

	hits := raw.Filter(l.targets, l.confidence)
	if hits.Len() == 0 {
		return nil, nil
	}

	if l.snapshots != nil {
		boxes := make([]overlay.Box, hits.Len())
		for i := range boxes {
			boxes[i] = overlay.Box{Rect: hits.Rects[i], Class: hits.ClassNames[i], Confidence: hits.Confidences[i]}
		}
		path, err := l.snapshots.Save(frame, snapshotName(source), boxes)
		if err != nil {
			l.log.Warn().Err(err).Msg("Snapshot failed")
		} else {
			l.log.Debug().Str("path", path).Msg("Snapshot saved")
		}
	}
	return hits.Labels(), nil
}

// snapshotName derives a file-safe name from the source's host.
func snapshotName(source string) string {
	return capture.Host(source)
}
