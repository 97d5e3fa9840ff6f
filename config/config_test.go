package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
check_interval: 1s
motion:
  threshold: 600
  sensitivity: 20
cameras:
  - name: Yard
    stream_url: rtsp://yard/main
    motion_url: rtsp://yard/sub
    stream_key: aaaa-bbbb
    webhook_url: https://discord.example/hook
    message: "Motion detected by camera in Yard at "
  - name: Kitchen
    stream_url: rtsp://kitchen/main
    motion:
      threshold: 250
      learning_rate: 0.1
      cooldown_period: 30s
`

func TestParseAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.CheckInterval)
	assert.Equal(t, 5, cfg.Discard.Motion)
	assert.Equal(t, 15, cfg.Discard.Detect)
	assert.Equal(t, 2, cfg.WorkerCount())
	assert.Equal(t, "remote", cfg.Detection.Mode)

	yard, ok := cfg.Camera("Yard")
	require.True(t, ok)
	assert.Equal(t, "rtsp://yard/sub", yard.MotionSource())
	yt := cfg.Tuning(yard)
	assert.Equal(t, 600.0, yt.Threshold)
	assert.Equal(t, 20.0, yt.Sensitivity)
	assert.Equal(t, 320, yt.DownscaleWidth)
	assert.Equal(t, 15*time.Second, yt.CooldownPeriod)

	kitchen, ok := cfg.Camera("Kitchen")
	require.True(t, ok)
	assert.Equal(t, "rtsp://kitchen/main", kitchen.MotionSource())
	kt := cfg.Tuning(kitchen)
	assert.Equal(t, 250.0, kt.Threshold)
	assert.Equal(t, 20.0, kt.Sensitivity)
	assert.Equal(t, 0.1, kt.LearningRate)
	assert.Equal(t, 30*time.Second, kt.CooldownPeriod)
	assert.Equal(t, 3, kt.MinMotionFrames)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no cameras", "check_interval: 1s", "no cameras"},
		{"missing name", "cameras: [{stream_url: rtsp://x}]", "name is required"},
		{"duplicate", "cameras: [{name: a, stream_url: rtsp://x}, {name: a, stream_url: rtsp://y}]", "duplicate"},
		{"missing url", "cameras: [{name: a}]", "stream_url is required"},
		{"bad learning rate", "cameras: [{name: a, stream_url: rtsp://x, motion: {learning_rate: 0}}]", "learning_rate"},
		{"bad mode", "detection: {mode: magic}\ncameras: [{name: a, stream_url: rtsp://x}]", "unknown detection mode"},
		{"local without model", "detection: {mode: local}\ncameras: [{name: a, stream_url: rtsp://x}]", "detection.weights"},
		{"zero capture timeout", "timeouts: {capture: 0s}\ncameras: [{name: a, stream_url: rtsp://x}]", "timeouts must be positive"},
		{"zero detect timeout", "timeouts: {detect: 0s}\ncameras: [{name: a, stream_url: rtsp://x}]", "timeouts must be positive"},
		{"negative pipeline timeout", "timeouts: {pipeline: -1s}\ncameras: [{name: a, stream_url: rtsp://x}]", "timeouts must be positive"},
		{"youtube without secrets", "youtube: {enabled: true}\ncameras: [{name: a, stream_url: rtsp://x}]", "client_secrets_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNoCamerasSentinel(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrNoCameras)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motionwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Cameras, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReadAllowsNoCameras(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.yaml")
	data := "detection:\n  mode: local\n  weights: yolo.onnx\n  names: coco.names\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Cameras)
	assert.NoError(t, cfg.ValidateDetection())
	assert.ErrorIs(t, cfg.Validate(), ErrNoCameras)

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrNoCameras)
}

func TestValidateDetection(t *testing.T) {
	cfg := Default()
	cfg.Detection.Mode = "local"
	assert.Error(t, cfg.ValidateDetection())

	cfg = Default()
	cfg.Detection.Mode = "cloud"
	assert.Error(t, cfg.ValidateDetection())

	cfg = Default()
	cfg.Detection.ImageSize = 0
	assert.Error(t, cfg.ValidateDetection())

	cfg = Default()
	cfg.Timeouts.Detect = 0
	assert.ErrorContains(t, cfg.ValidateDetection(), "timeouts must be positive")
}
