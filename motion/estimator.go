// Package motion classifies frames as moving or still against a slowly
// adapting luminance baseline.
package motion

import (
	"image"

	"gocv.io/x/gocv"

	"motionwatch/config"
)

// MaxAnalysisWidth is the widest frame analysed without downscaling.
const MaxAnalysisWidth = 640

var blurKernel = image.Pt(21, 21)

const dilateIterations = 2

// Estimator holds one camera's rolling baseline. It is not safe for
// concurrent use; the scheduler runs at most one tick per camera.
type Estimator struct {
	tuning   config.Tuning
	baseline gocv.Mat // CV32F, allocated on the first frame
	size     image.Point
	kernel   gocv.Mat
}

// NewEstimator creates an estimator with an unset baseline.
func NewEstimator(tuning config.Tuning) *Estimator {
	return &Estimator{
		tuning: tuning,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
}

// Classify reports whether frame shows motion relative to the baseline.
// An empty frame is "still". The first frame only seeds the baseline.
func (e *Estimator) Classify(frame gocv.Mat) bool {
	if frame.Empty() {
		return false
	}

	smoothed := e.prepare(frame)
	defer func() { smoothed.Close() }()

	if !e.initialized() {
		e.baseline = gocv.NewMat()
		smoothed.ConvertTo(&e.baseline, gocv.MatTypeCV32F)
		e.size = image.Pt(smoothed.Cols(), smoothed.Rows())
		return false
	}

	if smoothed.Cols() != e.size.X || smoothed.Rows() != e.size.Y {
		fitted := gocv.NewMat()
		gocv.Resize(smoothed, &fitted, e.size, 0, 0, gocv.InterpolationLinear)
		smoothed.Close()
		smoothed = fitted
	}

	// Difference against the baseline as it was before this frame is blended in.
	reference := gocv.NewMat()
	defer reference.Close()
	gocv.ConvertScaleAbs(e.baseline, &reference, 1, 0)

	gocv.AccumulatedWeighted(smoothed, &e.baseline, e.tuning.LearningRate)

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(smoothed, reference, &delta)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(delta, &mask, float32(e.tuning.Sensitivity), 255, gocv.ThresholdBinary)

	dilated := gocv.NewMat()
	defer dilated.Close()
	mask.CopyTo(&dilated)
	for i := 0; i < dilateIterations; i++ {
		gocv.Dilate(dilated, &mask, e.kernel)
		mask.CopyTo(&dilated)
	}

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) < e.tuning.Threshold {
			continue
		}
		return true
	}
	return false
}

// prepare downscales, converts to grey and smooths. The caller closes the result.
func (e *Estimator) prepare(frame gocv.Mat) gocv.Mat {
	work := frame
	if e.tuning.ForceResize || frame.Cols() > MaxAnalysisWidth {
		width := e.tuning.DownscaleWidth
		height := int(float64(frame.Rows()) * float64(width) / float64(frame.Cols()))
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
		work = resized
	}

	gray := gocv.NewMat()
	defer gray.Close()
	switch work.Channels() {
	case 1:
		work.CopyTo(&gray)
	case 4:
		gocv.CvtColor(work, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(work, &gray, gocv.ColorBGRToGray)
	}

	smoothed := gocv.NewMat()
	gocv.GaussianBlur(gray, &smoothed, blurKernel, 0, 0, gocv.BorderDefault)
	return smoothed
}

func (e *Estimator) initialized() bool {
	return e.size != image.Point{}
}

// BaselineSize returns the analysis frame size, or zero before the first frame.
func (e *Estimator) BaselineSize() image.Point {
	return e.size
}

// Reset discards the baseline; the next frame re-seeds it.
func (e *Estimator) Reset() {
	if e.initialized() {
		e.baseline.Close()
	}
	e.size = image.Point{}
}

// Close releases the estimator's native memory.
func (e *Estimator) Close() error {
	e.Reset()
	return e.kernel.Close()
}
