// Package capture pulls single fresh frames from camera sources.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"motionwatch/logging"
)

var (
	// ErrSourceUnavailable means the source could not be opened or decoded.
	// Flaky camera links produce this all the time; callers treat it as "no frame".
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrBusy means a previous capture on the same source has not returned yet.
	ErrBusy = errors.New("previous capture still outstanding")
)

// Default discard counts for the two capture paths.
const (
	MotionDiscard = 5
	DetectDiscard = 15
)

// VideoSource is the subset of gocv.VideoCapture the sampler uses.
type VideoSource interface {
	IsOpened() bool
	Grab(skip int)
	Read(m *gocv.Mat) bool
	Close() error
}

// Opener opens a source locator.
type Opener func(source string) (VideoSource, error)

// OpenVideoCapture opens an RTSP/file/device locator with gocv. gocv returns
// an allocated capture alongside an open error; it is closed here.
func OpenVideoCapture(source string) (VideoSource, error) {
	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return nil, err
	}
	return vc, nil
}

// Sampler acquires one frame per call after skipping stale buffered frames.
type Sampler struct {
	discard int
	open    Opener
	log     zerolog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

// NewSampler creates a sampler that discards the given number of frames
// before reading. A nil opener uses gocv.
func NewSampler(discard int, open Opener) *Sampler {
	if open == nil {
		open = OpenVideoCapture
	}
	return &Sampler{
		discard:  discard,
		open:     open,
		log:      logging.Component("capture"),
		inflight: make(map[string]bool),
	}
}

type result struct {
	frame gocv.Mat
	err   error
}

// Acquire returns one decoded frame from source. The caller owns the Mat and
// must Close it. If ctx expires first the capture keeps running in the
// background, its frame is released when it finishes, and further calls for
// the same source return ErrBusy until then.
func (s *Sampler) Acquire(ctx context.Context, source string) (gocv.Mat, error) {
	if !s.claim(source) {
		return gocv.Mat{}, ErrBusy
	}

	done := make(chan result, 1)
	go func() {
		frame, err := s.grab(source)
		s.release(source)
		done <- result{frame: frame, err: err}
	}()

	select {
	case r := <-done:
		return r.frame, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.frame.Close()
			}
		}()
		return gocv.Mat{}, fmt.Errorf("capture %s: %w", Redact(source), ctx.Err())
	}
}

func (s *Sampler) grab(source string) (gocv.Mat, error) {
	vc, err := s.open(source)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer vc.Close()

	if !vc.IsOpened() {
		return gocv.Mat{}, ErrSourceUnavailable
	}

	if s.discard > 0 {
		vc.Grab(s.discard)
	}

	frame := gocv.NewMat()
	if ok := vc.Read(&frame); !ok || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, fmt.Errorf("%w: no frame decoded", ErrSourceUnavailable)
	}
	return frame, nil
}

func (s *Sampler) claim(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[source] {
		s.log.Debug().Str("source", Redact(source)).Msg("Capture still outstanding, skipping")
		return false
	}
	s.inflight[source] = true
	return true
}

func (s *Sampler) release(source string) {
	s.mu.Lock()
	delete(s.inflight, source)
	s.mu.Unlock()
}
