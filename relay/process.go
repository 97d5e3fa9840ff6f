package relay

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"motionwatch/config"
	pkgffmpeg "motionwatch/pkg/ffmpeg"
)

// Process is a running relay.
type Process interface {
	Pid() int
	Signal(sig syscall.Signal) error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid once Done is closed.
	Err() error
}

// Launcher starts a relay process for the camera with the given arguments.
type Launcher func(camera string, args []string, onUnhealthy func(reason string)) (Process, error)

// Finder looks for an already running relay publishing to output.
type Finder func(ctx context.Context, output string) (Process, bool, error)

// Output is the sink URL a camera's relay publishes to.
func Output(cfg config.Relay, cam config.Camera) string {
	return strings.TrimRight(cfg.RTMPBase, "/") + "/" + cam.StreamKey
}

// Args builds the copy-relay arguments for one camera.
func Args(cfg config.Relay, cam config.Camera) []string {
	input := strings.Join([]string{cfg.HLSRoot, cam.Name, cfg.IndexM3U8}, "/")
	output := Output(cfg, cam)

	return ffmpeg.Input(input, ffmpeg.KwArgs{
		"re":               "",
		"live_start_index": fmt.Sprint(cfg.LiveStartIndex),
	}).Output(output, ffmpeg.KwArgs{
		"c": "copy",
		"f": "flv",
	}).GetArgs()
}

// defaultMonitorOptions allows for the HLS live-start backlog being copied
// before steady progress lines appear.
func defaultMonitorOptions() pkgffmpeg.Options {
	opts := pkgffmpeg.DefaultOptions()
	opts.FrameTimeout = 45 * time.Second
	return opts
}

type execProcess struct {
	cmd     *exec.Cmd
	monitor *pkgffmpeg.Monitor
	done    chan struct{}
	err     error
}

// ExecLauncher runs bin in its own process group with its output health-monitored.
func ExecLauncher(bin string, opts pkgffmpeg.Options) Launcher {
	return func(camera string, args []string, onUnhealthy func(string)) (Process, error) {
		cmd := exec.Command(bin, args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		monitor := pkgffmpeg.NewMonitor(camera, opts)
		if err := monitor.Attach(cmd, onUnhealthy); err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
		}
		monitor.StartMonitoring(cmd.Process.Pid)

		p := &execProcess{cmd: cmd, monitor: monitor, done: make(chan struct{})}
		go func() {
			monitor.WaitOutput()
			p.err = cmd.Wait()
			monitor.Stop()
			if p.err != nil {
				monitor.DumpCrashInfo()
			}
			close(p.done)
		}()
		return p, nil
	}
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

// Signal delivers sig to the whole process group.
func (p *execProcess) Signal(sig syscall.Signal) error {
	return syscall.Kill(-p.cmd.Process.Pid, sig)
}

func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Err() error            { return p.err }

// pidProcess is a relay found running from an earlier run, which this
// process cannot Wait on.
type pidProcess struct {
	proc *process.Process
	done chan struct{}
}

const pollInterval = 250 * time.Millisecond

func adopt(proc *process.Process) *pidProcess {
	p := &pidProcess{proc: proc, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for {
			running, err := proc.IsRunning()
			if err != nil || !running {
				return
			}
			time.Sleep(pollInterval)
		}
	}()
	return p
}

func (p *pidProcess) Pid() int                        { return int(p.proc.Pid) }
func (p *pidProcess) Signal(sig syscall.Signal) error { return p.proc.SendSignal(sig) }
func (p *pidProcess) Done() <-chan struct{}           { return p.done }
func (p *pidProcess) Err() error                      { return nil }

// ProcessFinder scans the process table for an ffmpeg publishing to output.
func ProcessFinder(ctx context.Context, output string) (Process, bool, error) {
	if output == "" || strings.HasSuffix(output, "/") {
		return nil, false, nil
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list processes: %w", err)
	}
	self := int32(os.Getpid())
	for _, proc := range procs {
		if proc.Pid == self {
			continue
		}
		args, err := proc.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		if relayFor(args, output) {
			return adopt(proc), true, nil
		}
	}
	return nil, false, nil
}

// relayFor reports whether args run ffmpeg with output as a whole argument.
func relayFor(args []string, output string) bool {
	if len(args) == 0 || !strings.Contains(filepath.Base(args[0]), "ffmpeg") {
		return false
	}
	for _, arg := range args[1:] {
		if arg == output {
			return true
		}
	}
	return false
}
