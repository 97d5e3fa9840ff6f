// Package ffmpeg watches a running ffmpeg child's output and reports when it
// stops making progress.
package ffmpeg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"motionwatch/logging"
	"motionwatch/timeutil"
)

var (
	frameRegex          = regexp.MustCompile(`frame=\s*(\d+)`)
	timestampErrorRegex = regexp.MustCompile(`(?i)((DTS|PTS)\s+\d+,\s+next:\d+.*invalid dropping|Non-monotonic DTS.*previous:.*current:.*changing to)`)
)

// OutputBuffer stores recent output lines for crash dump analysis
type OutputBuffer struct {
	lines    []string
	maxLines int
	index    int
	full     bool
	clock    timeutil.Clock
	mutex    sync.RWMutex
}

// NewOutputBuffer creates a circular buffer for storing recent output
func NewOutputBuffer(maxLines int, clock timeutil.Clock) *OutputBuffer {
	return &OutputBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
		clock:    clock,
	}
}

// Add stores a new line in the circular buffer
func (ob *OutputBuffer) Add(line string) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	ob.lines[ob.index] = fmt.Sprintf("[%s] %s", ob.clock.Now().Format("15:04:05.000"), line)
	ob.index = (ob.index + 1) % ob.maxLines
	if ob.index == 0 {
		ob.full = true
	}
}

// Recent returns the buffered lines, oldest first.
func (ob *OutputBuffer) Recent() []string {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()

	start, n := 0, ob.index
	if ob.full {
		start, n = ob.index, ob.maxLines
	}
	result := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if line := ob.lines[(start+i)%ob.maxLines]; line != "" {
			result = append(result, line)
		}
	}
	return result
}

// Options tunes the health checks.
type Options struct {
	HealthTimeout  time.Duration // no output at all
	FrameTimeout   time.Duration // no frame= progress
	CheckInterval  time.Duration
	TimestampLimit int // timestamp errors within 30s that force unhealthy
	Clock          timeutil.Clock
}

// DefaultOptions matches a copy relay that reports progress every few seconds.
func DefaultOptions() Options {
	return Options{
		HealthTimeout:  30 * time.Second,
		FrameTimeout:   30 * time.Second,
		CheckInterval:  5 * time.Second,
		TimestampLimit: 3,
		Clock:          timeutil.RealClock{},
	}
}

// Monitor tracks one ffmpeg process through its stdout and stderr.
type Monitor struct {
	opts Options
	log  zerolog.Logger

	mutex           sync.RWMutex
	running         bool
	lastOutput      time.Time
	lastFrameNumber int
	lastFrameUpdate time.Time
	timestampErrors int
	lastErrorTime   time.Time
	forceUnhealthy  bool
	onUnhealthy     func(reason string)

	stderrBuffer *OutputBuffer
	stdoutBuffer *OutputBuffer
	stderrPipe   io.ReadCloser
	stdoutPipe   io.ReadCloser
	readers      sync.WaitGroup
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewMonitor creates a monitor for the process named by name (used in logs).
func NewMonitor(name string, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Monitor{
		opts:         opts,
		log:          logging.Camera("ffmpeg", name),
		stderrBuffer: NewOutputBuffer(100, opts.Clock),
		stdoutBuffer: NewOutputBuffer(100, opts.Clock),
		stop:         make(chan struct{}),
	}
}

// Attach creates the output pipes. Call before cmd.Start.
func (m *Monitor) Attach(cmd *exec.Cmd, onUnhealthy func(reason string)) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.onUnhealthy = onUnhealthy
	var err error
	if m.stderrPipe, err = cmd.StderrPipe(); err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if m.stdoutPipe, err = cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	return nil
}

// StartMonitoring begins reading output and checking health. Call after cmd.Start.
func (m *Monitor) StartMonitoring(pid int) {
	m.mutex.Lock()
	now := m.opts.Clock.Now()
	m.running = true
	m.lastOutput = now
	m.lastFrameUpdate = now
	m.mutex.Unlock()

	m.log.Debug().Int("pid", pid).Msg("Starting health monitoring")
	for source, pipe := range map[string]io.ReadCloser{"stderr": m.stderrPipe, "stdout": m.stdoutPipe} {
		if pipe == nil {
			continue
		}
		m.readers.Add(1)
		go func(r io.Reader, source string) {
			defer m.readers.Done()
			m.Consume(r, source)
		}(pipe, source)
	}
	go m.healthCheckLoop()
}

// WaitOutput blocks until both output streams have reached EOF. Call it
// before cmd.Wait, which closes the pipes.
func (m *Monitor) WaitOutput() {
	m.readers.Wait()
}

// Stop ends health checking. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mutex.Lock()
		m.running = false
		m.mutex.Unlock()
		close(m.stop)
	})
}

// Healthy reports whether output and frame progress are recent.
func (m *Monitor) Healthy() bool {
	return m.unhealthyReason() == ""
}

// Recent returns the buffered stderr and stdout lines.
func (m *Monitor) Recent() (stderr, stdout []string) {
	return m.stderrBuffer.Recent(), m.stdoutBuffer.Recent()
}

// DumpCrashInfo logs the recent output for crash analysis.
func (m *Monitor) DumpCrashInfo() {
	stderr, stdout := m.Recent()
	m.log.Warn().Strs("stderr", stderr).Strs("stdout", stdout).Msg("ffmpeg recent output")
}

// Consume reads one output stream until EOF. ffmpeg ends progress lines
// with a carriage return, so both \r and \n end a line.
func (m *Monitor) Consume(r io.Reader, source string) {
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}
	buffer := m.stdoutBuffer
	if source == "stderr" {
		buffer = m.stderrBuffer
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLines)

	lineCount := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lineCount++
		buffer.Add(line)
		m.processOutputLine(line)
		m.log.Trace().Str("stream", source).Msg(line)
	}
	if err := scanner.Err(); err != nil {
		m.log.Warn().Err(err).Str("stream", source).Msg("Scanner error")
		buffer.Add(fmt.Sprintf("SCANNER_ERROR: %v", err))
	}
	m.log.Debug().Str("stream", source).Int("lines", lineCount).Msg("Output monitor finished")
}

func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (m *Monitor) processOutputLine(line string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.opts.Clock.Now()
	if !m.forceUnhealthy {
		m.lastOutput = now
	}

	if timestampErrorRegex.MatchString(line) {
		if now.Sub(m.lastErrorTime) > 30*time.Second {
			m.timestampErrors = 0
		}
		m.timestampErrors++
		m.lastErrorTime = now
		m.log.Warn().Int("count", m.timestampErrors).Msgf("Timestamp error: %s", line)

		if m.timestampErrors >= m.opts.TimestampLimit {
			m.log.Error().Int("count", m.timestampErrors).Msg("Timestamp error threshold reached, marking unhealthy")
			m.forceUnhealthy = true
			m.timestampErrors = 0
			return
		}
	}

	if matches := frameRegex.FindStringSubmatch(line); len(matches) > 1 {
		if frameNum, err := strconv.Atoi(matches[1]); err == nil && frameNum > m.lastFrameNumber {
			m.lastFrameNumber = frameNum
			m.lastFrameUpdate = now
		}
	}
}

func (m *Monitor) healthCheckLoop() {
	for {
		select {
		case <-m.stop:
			return
		case <-m.opts.Clock.After(m.opts.CheckInterval):
		}

		if reason := m.unhealthyReason(); reason != "" {
			m.mutex.RLock()
			running := m.running
			m.mutex.RUnlock()
			if !running {
				return
			}
			m.log.Error().Str("reason", reason).Msg("ffmpeg became unhealthy")
			m.DumpCrashInfo()
			if m.onUnhealthy != nil {
				m.onUnhealthy(reason)
			}
			return
		}
	}
}

// unhealthyReason returns "" while healthy.
func (m *Monitor) unhealthyReason() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	now := m.opts.Clock.Now()
	switch {
	case !m.running:
		return "process not running"
	case m.forceUnhealthy:
		return "forced unhealthy due to critical errors"
	case now.Sub(m.lastOutput) > m.opts.HealthTimeout:
		return fmt.Sprintf("no output received for %v", now.Sub(m.lastOutput))
	case now.Sub(m.lastFrameUpdate) > m.opts.FrameTimeout:
		return fmt.Sprintf("no frame progress for %v (last frame: %d)", now.Sub(m.lastFrameUpdate), m.lastFrameNumber)
	}
	return ""
}
