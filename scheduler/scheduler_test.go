package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"motionwatch/capture"
	"motionwatch/config"
	"motionwatch/escalation"
	"motionwatch/timeutil"
)

type fakeFrames struct {
	mu     sync.Mutex
	fail   map[string]error
	block  map[string]chan struct{}
	calls  map[string]int
	active int
	peak   int
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{
		fail:  map[string]error{},
		block: map[string]chan struct{}{},
		calls: map[string]int{},
	}
}

func (f *fakeFrames) Acquire(ctx context.Context, source string) (gocv.Mat, error) {
	f.mu.Lock()
	f.calls[source]++
	f.active++
	f.peak = max(f.peak, f.active)
	err, gate := f.fail[source], f.block[source]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return gocv.Mat{}, ctx.Err()
		}
	}
	if err != nil {
		return gocv.Mat{}, err
	}
	return gocv.NewMat(), nil
}

func (f *fakeFrames) count(source string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[source]
}

type fakeClassifier struct {
	moving bool
	panics bool
	calls  atomic.Int64
	seen   chan struct{}
	closed atomic.Bool
}

func (c *fakeClassifier) Classify(gocv.Mat) bool {
	c.calls.Add(1)
	if c.seen != nil {
		select {
		case c.seen <- struct{}{}:
		default:
		}
	}
	if c.panics {
		panic("classifier exploded")
	}
	return c.moving
}

func (c *fakeClassifier) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeDetector struct{ labels []string }

func (d fakeDetector) Detect(context.Context, string) ([]string, error) {
	return d.labels, nil
}

type fakePipeline struct {
	mu     sync.Mutex
	starts map[string]int
	stops  map[string]int
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{starts: map[string]int{}, stops: map[string]int{}}
}

func (p *fakePipeline) Start(_ context.Context, camera string, _ []string) (escalation.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts[camera]++
	return escalation.Handle{ID: camera + "-1", Camera: camera}, nil
}

func (p *fakePipeline) Stop(_ context.Context, camera string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops[camera]++
	return nil
}

func testConfig(names ...string) *config.Config {
	cfg := config.Default()
	for _, n := range names {
		cfg.Cameras = append(cfg.Cameras, config.Camera{Name: n, StreamURL: "rtsp://" + n + "/main"})
	}
	return cfg
}

func classifiers(m map[string]*fakeClassifier) func(config.Camera, config.Tuning) Classifier {
	return func(cam config.Camera, _ config.Tuning) Classifier {
		if c, ok := m[cam.Name]; ok {
			return c
		}
		return &fakeClassifier{}
	}
}

func TestSlowCaptureDoesNotBlockOtherCameras(t *testing.T) {
	cfg := testConfig("slow", "fast")
	frames := newFakeFrames()
	gate := make(chan struct{})
	frames.block["rtsp://slow/main"] = gate

	fast := &fakeClassifier{seen: make(chan struct{}, 1)}
	s := New(cfg, frames, fakeDetector{}, newFakePipeline(), Options{
		NewClassifier: classifiers(map[string]*fakeClassifier{"fast": fast}),
	})

	done := make(chan struct{})
	go func() {
		s.Tick(context.Background())
		close(done)
	}()

	select {
	case <-fast.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("fast camera was held up by the slow one")
	}

	select {
	case <-done:
		t.Fatal("tick returned before the slow camera finished")
	default:
	}

	close(gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never completed")
	}
	assert.Equal(t, int64(1), fast.calls.Load())
}

func TestTickVisitsEveryCameraOnce(t *testing.T) {
	cfg := testConfig("a", "b", "c")
	cfg.Workers = 1
	frames := newFakeFrames()
	s := New(cfg, frames, fakeDetector{}, newFakePipeline(), Options{})

	s.Tick(context.Background())
	s.Tick(context.Background())

	for _, n := range []string{"a", "b", "c"} {
		assert.Equal(t, 2, frames.count("rtsp://"+n+"/main"), n)
	}
	assert.Equal(t, 1, frames.peak)

	snap := s.Stats()
	assert.Equal(t, int64(2), snap.Ticks)
	assert.Equal(t, int64(6), snap.CameraTicks)
}

func TestMissingFrameCountsAsStill(t *testing.T) {
	cfg := testConfig("gone")
	frames := newFakeFrames()
	frames.fail["rtsp://gone/main"] = capture.ErrSourceUnavailable
	cl := &fakeClassifier{moving: true}
	s := New(cfg, frames, fakeDetector{}, newFakePipeline(), Options{
		NewClassifier: classifiers(map[string]*fakeClassifier{"gone": cl}),
	})

	for range 5 {
		s.Tick(context.Background())
	}

	assert.Zero(t, cl.calls.Load())
	assert.Equal(t, int64(5), s.Stats().FramesMissing)
	st, err := s.Status("gone")
	require.NoError(t, err)
	assert.Equal(t, escalation.Idle, st.State)
	assert.Zero(t, st.MotionRunCount)
}

func TestMotionSourcePreferred(t *testing.T) {
	cfg := testConfig("sub")
	cfg.Cameras[0].MotionURL = "rtsp://sub/low"
	frames := newFakeFrames()
	s := New(cfg, frames, fakeDetector{}, newFakePipeline(), Options{})

	s.Tick(context.Background())

	assert.Equal(t, 1, frames.count("rtsp://sub/low"))
	assert.Zero(t, frames.count("rtsp://sub/main"))
}

func TestPanicIsIsolatedToCamera(t *testing.T) {
	cfg := testConfig("bad", "good")
	good := &fakeClassifier{moving: true}
	s := New(cfg, newFakeFrames(), fakeDetector{}, newFakePipeline(), Options{
		NewClassifier: classifiers(map[string]*fakeClassifier{
			"bad":  {panics: true},
			"good": good,
		}),
	})

	s.Tick(context.Background())

	assert.Equal(t, int64(1), s.Stats().Panics)
	st, err := s.Status("good")
	require.NoError(t, err)
	assert.Equal(t, 1, st.MotionRunCount)
}

func TestSustainedMotionStartsPipeline(t *testing.T) {
	cfg := testConfig("yard")
	pipe := newFakePipeline()
	s := New(cfg, newFakeFrames(), fakeDetector{labels: []string{"person (0.91)"}}, pipe, Options{
		NewClassifier: classifiers(map[string]*fakeClassifier{"yard": {moving: true}}),
	})

	for range 3 {
		s.Tick(context.Background())
	}

	assert.Equal(t, 1, pipe.starts["yard"])
	st, _ := s.Status("yard")
	assert.Equal(t, escalation.Active, st.State)
	assert.True(t, st.PipelineActive)

	snap := s.Stats()
	assert.Equal(t, int64(1), snap.Escalations)
	assert.Equal(t, int64(1), snap.Confirmed)
	assert.Equal(t, int64(1), snap.Starts)
}

func TestRunReleasesActivePipelinesOnShutdown(t *testing.T) {
	cfg := testConfig("porch", "drive")
	clock := timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	pipe := newFakePipeline()
	porch := &fakeClassifier{moving: true}
	drive := &fakeClassifier{}
	s := New(cfg, newFakeFrames(), fakeDetector{labels: []string{"dog (0.77)"}}, pipe, Options{
		Clock:         clock,
		NewClassifier: classifiers(map[string]*fakeClassifier{"porch": porch, "drive": drive}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	for range 2 {
		require.Eventually(t, func() bool { return clock.Waiters() == 1 }, 2*time.Second, time.Millisecond)
		clock.Advance(cfg.CheckInterval)
	}
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	assert.Equal(t, 1, pipe.starts["porch"])
	assert.Equal(t, 1, pipe.stops["porch"])
	assert.Zero(t, pipe.stops["drive"])
	assert.True(t, porch.closed.Load())
	assert.True(t, drive.closed.Load())
}

func TestStatusUnknownCamera(t *testing.T) {
	s := New(testConfig("a"), newFakeFrames(), fakeDetector{}, newFakePipeline(), Options{})
	_, err := s.Status("nope")
	assert.Error(t, err)
}
