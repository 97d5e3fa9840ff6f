package motion

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"

	"motionwatch/config"
)

func scene(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), rows, cols, gocv.MatTypeCV8UC3)
}

func withBlock(rows, cols int, r image.Rectangle) gocv.Mat {
	m := scene(rows, cols)
	gocv.Rectangle(&m, r, color.RGBA{R: 255, G: 255, B: 255}, -1)
	return m
}

func TestFirstFrameNeverMotion(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	busy := withBlock(240, 320, image.Rect(20, 20, 300, 220))
	defer busy.Close()

	assert.False(t, e.Classify(busy), "first frame only seeds the baseline")
	assert.Equal(t, image.Pt(320, 240), e.BaselineSize())
}

func TestEmptyFrameIsStill(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	empty := gocv.NewMat()
	defer empty.Close()

	assert.False(t, e.Classify(empty))
	assert.Equal(t, image.Point{}, e.BaselineSize(), "empty frame must not seed the baseline")
}

func TestStaticSceneIsStill(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	bg := scene(240, 320)
	defer bg.Close()

	for i := 0; i < 5; i++ {
		assert.False(t, e.Classify(bg), "tick %d", i)
	}
}

func TestLargeChangeIsMotion(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	bg := scene(240, 320)
	defer bg.Close()
	intruder := withBlock(240, 320, image.Rect(100, 60, 220, 180))
	defer intruder.Close()

	assert.False(t, e.Classify(bg))
	assert.True(t, e.Classify(intruder))
}

func TestSmallBlobBelowThreshold(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	bg := scene(240, 320)
	defer bg.Close()
	speck := withBlock(240, 320, image.Rect(150, 100, 152, 102))
	defer speck.Close()

	assert.False(t, e.Classify(bg))
	assert.False(t, e.Classify(speck))
}

func TestWideFramesAreDownscaled(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	wide := scene(720, 1280)
	defer wide.Close()

	e.Classify(wide)
	assert.Equal(t, image.Pt(320, 180), e.BaselineSize())
}

func TestForceResize(t *testing.T) {
	tuning := config.DefaultTuning()
	tuning.ForceResize = true
	tuning.DownscaleWidth = 160
	e := NewEstimator(tuning)
	defer e.Close()

	small := scene(240, 320)
	defer small.Close()

	e.Classify(small)
	assert.Equal(t, image.Pt(160, 120), e.BaselineSize())
}

func TestBaselineSizeFixedAcrossResolutionChange(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	a := scene(240, 320)
	defer a.Close()
	b := scene(300, 400)
	defer b.Close()

	e.Classify(a)
	assert.False(t, e.Classify(b))
	assert.Equal(t, image.Pt(320, 240), e.BaselineSize())
}

func TestReset(t *testing.T) {
	e := NewEstimator(config.DefaultTuning())
	defer e.Close()

	bg := scene(240, 320)
	defer bg.Close()
	intruder := withBlock(240, 320, image.Rect(100, 60, 220, 180))
	defer intruder.Close()

	e.Classify(bg)
	e.Reset()
	assert.False(t, e.Classify(intruder), "first frame after reset re-seeds")
}
