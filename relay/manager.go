// Package relay starts and stops the per-camera ffmpeg copy relay that
// forwards the camera's HLS output to the live ingest while a target is present.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"motionwatch/broadcast"
	"motionwatch/config"
	"motionwatch/escalation"
	"motionwatch/logging"
	"motionwatch/notify"
	"motionwatch/timeutil"
)

// ErrNotRunning is returned by Stop when the camera has no relay.
var ErrNotRunning = errors.New("relay not running")

type relay struct {
	handle escalation.Handle
	proc   Process
}

// Options holds the Manager collaborators; nil fields get production defaults.
type Options struct {
	Launcher    Launcher
	Finder      Finder
	Broadcaster broadcast.Broadcaster
	Notifier    notify.Notifier
	Clock       timeutil.Clock
}

// Manager implements escalation.Pipeline with one relay per camera.
type Manager struct {
	cfg         config.Relay
	cameras     map[string]config.Camera
	launch      Launcher
	find        Finder
	broadcaster broadcast.Broadcaster
	notifier    notify.Notifier
	clock       timeutil.Clock
	log         zerolog.Logger

	mu     sync.Mutex
	relays map[string]*relay
}

// NewManager builds a manager for the configured cameras.
func NewManager(cfg *config.Config, opts Options) *Manager {
	m := &Manager{
		cfg:         cfg.Relay,
		cameras:     make(map[string]config.Camera, len(cfg.Cameras)),
		launch:      opts.Launcher,
		find:        opts.Finder,
		broadcaster: opts.Broadcaster,
		notifier:    opts.Notifier,
		clock:       opts.Clock,
		log:         logging.Component("relay"),
		relays:      make(map[string]*relay),
	}
	for _, c := range cfg.Cameras {
		m.cameras[c.Name] = c
	}
	if m.launch == nil {
		m.launch = ExecLauncher(cfg.Relay.FFmpegBin, defaultMonitorOptions())
	}
	if m.find == nil {
		m.find = ProcessFinder
	}
	if m.broadcaster == nil {
		m.broadcaster = broadcast.Noop{}
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.clock == nil {
		m.clock = timeutil.RealClock{}
	}
	return m
}

// Start launches the camera's relay, opens its broadcast and sends the alert.
// A relay already running for the stream key is adopted without a new alert.
func (m *Manager) Start(ctx context.Context, camera string, labels []string) (escalation.Handle, error) {
	cam, ok := m.cameras[camera]
	if !ok {
		return escalation.Handle{}, fmt.Errorf("unknown camera %q", camera)
	}
	log := m.log.With().Str("camera", camera).Logger()

	if h, ok := m.Running(camera); ok {
		log.Info().Int("pid", h.PID).Msg("Stream already running")
		h.Existing = true
		return h, nil
	}

	if proc, found, err := m.find(ctx, Output(m.cfg, cam)); err != nil {
		log.Warn().Err(err).Msg("Checking for a running relay failed")
	} else if found {
		h := m.register(camera, proc).handle
		h.Existing = true
		log.Info().Int("pid", h.PID).Msg("Stream already running (process found)")
		return h, nil
	}

	proc, err := m.launch(camera, Args(m.cfg, cam), func(reason string) { m.unhealthy(camera, reason) })
	if err != nil {
		return escalation.Handle{}, fmt.Errorf("start relay for %s: %w", camera, err)
	}
	log.Info().Int("pid", proc.Pid()).Msg("Successfully started relay")

	r := m.register(camera, proc)

	link, err := m.broadcaster.Start(ctx, camera)
	if err != nil {
		log.Error().Err(err).Msg("Starting broadcast failed")
	}
	m.mu.Lock()
	r.handle.Link = link
	h := r.handle
	m.mu.Unlock()

	ev := notify.Event{
		ID:      h.ID,
		Camera:  camera,
		Message: cam.Message,
		Link:    link,
		Labels:  labels,
		Time:    h.StartedAt,
	}
	if err := m.notifier.Notify(ctx, ev); err != nil {
		log.Error().Err(err).Msg("Sending notification failed")
	}
	return h, nil
}

func (m *Manager) register(camera string, proc Process) *relay {
	r := &relay{
		handle: escalation.Handle{
			ID:        uuid.NewString(),
			Camera:    camera,
			PID:       proc.Pid(),
			StartedAt: m.clock.Now(),
		},
		proc: proc,
	}

	m.mu.Lock()
	m.relays[camera] = r
	m.mu.Unlock()

	go m.reap(camera, r)
	return r
}

// reap drops the relay from the registry once its process exits.
func (m *Manager) reap(camera string, r *relay) {
	<-r.proc.Done()

	m.mu.Lock()
	current := m.relays[camera] == r
	if current {
		delete(m.relays, camera)
	}
	m.mu.Unlock()

	if current {
		m.log.Warn().Err(r.proc.Err()).Str("camera", camera).Int("pid", r.handle.PID).Msg("Relay exited")
	}
}

func (m *Manager) unhealthy(camera, reason string) {
	m.mu.Lock()
	r := m.relays[camera]
	delete(m.relays, camera)
	m.mu.Unlock()
	if r == nil {
		return
	}

	m.log.Error().Str("camera", camera).Str("reason", reason).Msg("Relay unhealthy, terminating")
	m.terminate(context.Background(), camera, r.proc)
}

// Stop terminates the camera's relay and completes its broadcast. The
// broadcast is completed even when no relay is found.
func (m *Manager) Stop(ctx context.Context, camera string) error {
	cam, ok := m.cameras[camera]
	if !ok {
		return fmt.Errorf("unknown camera %q", camera)
	}

	m.mu.Lock()
	r := m.relays[camera]
	delete(m.relays, camera)
	m.mu.Unlock()

	var proc Process
	if r != nil {
		proc = r.proc
	} else if p, found, err := m.find(ctx, Output(m.cfg, cam)); err == nil && found {
		proc = p
	}

	var errs []error
	if proc == nil {
		m.log.Info().Str("camera", camera).Msg("No active stream is found")
		errs = append(errs, ErrNotRunning)
	} else {
		m.terminate(ctx, camera, proc)
	}

	if err := m.broadcaster.Stop(ctx, camera); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// terminate sends SIGTERM, waits the grace period, then SIGKILLs.
func (m *Manager) terminate(ctx context.Context, camera string, proc Process) {
	log := m.log.With().Str("camera", camera).Int("pid", proc.Pid()).Logger()
	log.Info().Msg("Attempting to gracefully stop relay")

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Warn().Err(err).Msg("Failed to send SIGTERM")
	}

	select {
	case <-proc.Done():
		log.Info().Msg("Successfully stopped relay")
		return
	case <-m.clock.After(m.cfg.StopGrace):
	case <-ctx.Done():
	}

	log.Warn().Msg("Graceful stop failed, force killing relay")
	if err := proc.Signal(syscall.SIGKILL); err != nil {
		log.Warn().Err(err).Msg("Failed to send SIGKILL")
	}
}

// Running returns the camera's registered relay.
func (m *Manager) Running(camera string) (escalation.Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.relays[camera]
	if !ok {
		return escalation.Handle{}, false
	}
	return r.handle, true
}

// StopAll terminates every registered relay.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	cameras := make([]string, 0, len(m.relays))
	for c := range m.relays {
		cameras = append(cameras, c)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range cameras {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Stop(ctx, c); err != nil {
				m.log.Warn().Err(err).Str("camera", c).Msg("Stopping relay failed")
			}
		}()
	}
	wg.Wait()
}
