// Package escalation turns a per-tick stream of motion booleans into
// edge-triggered escalate (detect, then start the pipeline) and release
// (stop the pipeline) actions.
package escalation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"motionwatch/config"
	"motionwatch/logging"
	"motionwatch/timeutil"
)

// State is the policy's position in the escalation cycle.
type State int

const (
	// Idle: no recent motion, pipeline inactive.
	Idle State = iota
	// Accumulating: motion observed, below trigger threshold, pipeline inactive.
	Accumulating
	// Active: pipeline running, target confirmed.
	Active
	// ActiveQuiet: pipeline running, motion absent, cooldown running.
	ActiveQuiet
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Accumulating:
		return "ACCUMULATING"
	case Active:
		return "ACTIVE"
	case ActiveQuiet:
		return "ACTIVE_QUIET"
	default:
		return "UNKNOWN"
	}
}

// Detector runs the expensive detection backend against a source and
// returns human-readable target labels, or none.
type Detector interface {
	Detect(ctx context.Context, source string) ([]string, error)
}

// Pipeline starts and stops the downstream relay/broadcast for a camera.
// Both calls are idempotent.
type Pipeline interface {
	Start(ctx context.Context, camera string, labels []string) (Handle, error)
	Stop(ctx context.Context, camera string) error
}

// Handle identifies a running pipeline.
type Handle struct {
	ID        string
	Camera    string
	PID       int
	StartedAt time.Time
	Link      string
	Existing  bool // Start found the pipeline already running
}

// Options configures a Policy.
type Options struct {
	Camera          string
	Source          string // primary, full-resolution locator passed to the detector
	Tuning          config.Tuning
	DetectTimeout   time.Duration
	PipelineTimeout time.Duration
	Clock           timeutil.Clock
}

// Transition describes what one Advance did.
type Transition struct {
	From, To  State
	Escalated bool // detector was called
	Confirmed bool // detector reported a target
	Started   bool // pipeline start was requested
	Released  bool // pipeline stop was requested
	Labels    []string
}

// Status is a read-only view of the per-camera counters.
type Status struct {
	State          State
	MotionRunCount int
	PipelineActive bool
	LastEscalation time.Time
	QuietSince     time.Time
}

// Policy is one camera's escalation state machine. It is not safe for
// concurrent use; the scheduler guarantees one Advance at a time per camera.
type Policy struct {
	camera          string
	source          string
	minMotionFrames int
	cooldown        time.Duration
	detectTimeout   time.Duration
	pipelineTimeout time.Duration

	detector Detector
	pipeline Pipeline
	clock    timeutil.Clock
	log      zerolog.Logger

	state          State
	motionRunCount int
	pipelineActive bool
	lastEscalation time.Time
	quietSince     time.Time
	handle         Handle
}

// New creates a policy in the Idle state.
func New(opts Options, detector Detector, pipeline Pipeline) *Policy {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Policy{
		camera:          opts.Camera,
		source:          opts.Source,
		minMotionFrames: opts.Tuning.MinMotionFrames,
		cooldown:        opts.Tuning.CooldownPeriod,
		detectTimeout:   opts.DetectTimeout,
		pipelineTimeout: opts.PipelineTimeout,
		detector:        detector,
		pipeline:        pipeline,
		clock:           clock,
		log:             logging.Camera("escalation", opts.Camera),
	}
}

// Advance feeds one tick's motion classification into the state machine.
func (p *Policy) Advance(ctx context.Context, motion bool) Transition {
	tr := Transition{From: p.state}

	if motion {
		p.motionRunCount++
	} else {
		p.motionRunCount = 0
	}

	switch p.state {
	case Idle, Accumulating:
		if !motion {
			p.state = Idle
			break
		}
		p.state = Accumulating
		if p.motionRunCount >= p.minMotionFrames {
			p.log.Info().Int("motion_run", p.motionRunCount).Msg("Threshold reached. Triggering AI detection...")
			p.escalate(ctx, &tr)
		}

	case Active:
		if !motion {
			p.state = ActiveQuiet
			p.quietSince = p.clock.Now()
			p.log.Debug().Dur("cooldown", p.cooldown).Msg("Motion stopped, cooldown started")
		}

	case ActiveQuiet:
		if motion {
			p.state = Active
			p.quietSince = time.Time{}
			p.log.Debug().Msg("Motion resumed, cooldown cancelled")
			break
		}
		if p.clock.Since(p.quietSince) > p.cooldown {
			p.release(ctx, &tr)
		}
	}

	tr.To = p.state
	return tr
}

func (p *Policy) escalate(ctx context.Context, tr *Transition) {
	tr.Escalated = true

	dctx, cancel := withTimeout(ctx, p.detectTimeout)
	labels, err := p.detector.Detect(dctx, p.source)
	cancel()

	if err != nil {
		p.log.Warn().Err(err).Msg("Detection failed, discarding motion run")
		p.discard()
		return
	}
	if len(labels) == 0 {
		p.log.Info().Msg("No Human/Animal Detected!!")
		p.discard()
		return
	}

	tr.Confirmed = true
	tr.Labels = labels
	p.log.Info().Strs("targets", labels).Msg("AI detected target")

	if !p.pipelineActive {
		pctx, cancel := withTimeout(ctx, p.pipelineTimeout)
		handle, err := p.pipeline.Start(pctx, p.camera, labels)
		cancel()
		tr.Started = true
		if err != nil {
			p.log.Error().Err(err).Msg("Pipeline start failed, keeping camera active")
		} else {
			p.handle = handle
		}
		p.lastEscalation = p.clock.Now()
		p.pipelineActive = true
	}
	p.state = Active
}

func (p *Policy) release(ctx context.Context, tr *Transition) {
	tr.Released = true
	p.log.Info().Dur("quiet_for", p.clock.Since(p.quietSince)).Msg("Cooldown elapsed, stopping pipeline")

	pctx, cancel := withTimeout(ctx, p.pipelineTimeout)
	err := p.pipeline.Stop(pctx, p.camera)
	cancel()
	if err != nil {
		p.log.Error().Err(err).Msg("Pipeline stop failed, marking inactive anyway")
	}

	p.pipelineActive = false
	p.handle = Handle{}
	p.quietSince = time.Time{}
	p.discard()
}

func (p *Policy) discard() {
	p.state = Idle
	p.motionRunCount = 0
}

// Shutdown releases the pipeline if it is active. It returns true when a
// stop was requested.
func (p *Policy) Shutdown(ctx context.Context) bool {
	if !p.pipelineActive {
		return false
	}
	var tr Transition
	p.release(ctx, &tr)
	return true
}

// Status returns the current counters.
func (p *Policy) Status() Status {
	return Status{
		State:          p.state,
		MotionRunCount: p.motionRunCount,
		PipelineActive: p.pipelineActive,
		LastEscalation: p.lastEscalation,
		QuietSince:     p.quietSince,
	}
}

// Handle returns the handle of the running pipeline, if any.
func (p *Policy) Handle() (Handle, bool) {
	return p.handle, p.pipelineActive && p.handle.ID != ""
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
