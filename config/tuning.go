package config

import (
	"fmt"
	"time"
)

// Tuning holds the per-camera motion and escalation knobs.
type Tuning struct {
	Threshold       float64       `yaml:"threshold"`   // minimum contour area
	Sensitivity     float64       `yaml:"sensitivity"` // difference cutoff
	DownscaleWidth  int           `yaml:"downscale_width"`
	ForceResize     bool          `yaml:"force_resize"`
	MinMotionFrames int           `yaml:"min_motion_frames"`
	CooldownPeriod  time.Duration `yaml:"cooldown_period"`
	LearningRate    float64       `yaml:"learning_rate"`
}

// DefaultTuning is tuned for a small CPU watching through glass.
func DefaultTuning() Tuning {
	return Tuning{
		Threshold:       250,
		Sensitivity:     15,
		DownscaleWidth:  320,
		ForceResize:     false,
		MinMotionFrames: 3,
		CooldownPeriod:  15 * time.Second,
		LearningRate:    0.05,
	}
}

// Validate rejects knob values the estimator or policy cannot use.
func (t Tuning) Validate() error {
	if t.Threshold < 0 {
		return fmt.Errorf("threshold must not be negative, got %v", t.Threshold)
	}
	if t.Sensitivity < 0 || t.Sensitivity > 255 {
		return fmt.Errorf("sensitivity must be in [0,255], got %v", t.Sensitivity)
	}
	if t.DownscaleWidth <= 0 {
		return fmt.Errorf("downscale_width must be positive, got %d", t.DownscaleWidth)
	}
	if t.MinMotionFrames < 1 {
		return fmt.Errorf("min_motion_frames must be at least 1, got %d", t.MinMotionFrames)
	}
	if t.CooldownPeriod < 0 {
		return fmt.Errorf("cooldown_period must not be negative, got %v", t.CooldownPeriod)
	}
	if t.LearningRate <= 0 || t.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be in (0,1], got %v", t.LearningRate)
	}
	return nil
}

// TuningOverride holds per-camera overrides. Nil fields inherit the global
// motion block.
type TuningOverride struct {
	Threshold       *float64       `yaml:"threshold,omitempty"`
	Sensitivity     *float64       `yaml:"sensitivity,omitempty"`
	DownscaleWidth  *int           `yaml:"downscale_width,omitempty"`
	ForceResize     *bool          `yaml:"force_resize,omitempty"`
	MinMotionFrames *int           `yaml:"min_motion_frames,omitempty"`
	CooldownPeriod  *time.Duration `yaml:"cooldown_period,omitempty"`
	LearningRate    *float64       `yaml:"learning_rate,omitempty"`
}

// Tuning resolves the effective knobs for a camera.
func (c *Config) Tuning(cam Camera) Tuning {
	t := c.Motion
	o := cam.Motion
	if o.Threshold != nil {
		t.Threshold = *o.Threshold
	}
	if o.Sensitivity != nil {
		t.Sensitivity = *o.Sensitivity
	}
	if o.DownscaleWidth != nil {
		t.DownscaleWidth = *o.DownscaleWidth
	}
	if o.ForceResize != nil {
		t.ForceResize = *o.ForceResize
	}
	if o.MinMotionFrames != nil {
		t.MinMotionFrames = *o.MinMotionFrames
	}
	if o.CooldownPeriod != nil {
		t.CooldownPeriod = *o.CooldownPeriod
	}
	if o.LearningRate != nil {
		t.LearningRate = *o.LearningRate
	}
	return t
}
