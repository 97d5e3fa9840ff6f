// Package config loads the motionwatch YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"motionwatch/logging"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "motionwatch.yaml"

// ErrNoCameras is returned by Validate when the camera list is empty.
var ErrNoCameras = errors.New("no cameras configured")

// Config represents the complete motionwatch configuration.
type Config struct {
	CheckInterval time.Duration   `yaml:"check_interval"`
	Workers       int             `yaml:"workers"` // 0 = one per camera
	Timeouts      Timeouts        `yaml:"timeouts"`
	Discard       Discard         `yaml:"discard"`
	Motion        Tuning          `yaml:"motion"`
	Cameras       []Camera        `yaml:"cameras"`
	Detection     Detection       `yaml:"detection"`
	Relay         Relay           `yaml:"relay"`
	YouTube       YouTube         `yaml:"youtube"`
	Notify        Notify          `yaml:"notify"`
	Log           logging.Options `yaml:"log"`
}

// Timeouts bound every external call made on behalf of a camera.
type Timeouts struct {
	Capture  time.Duration `yaml:"capture"`
	Detect   time.Duration `yaml:"detect"`
	Pipeline time.Duration `yaml:"pipeline"`
}

// Discard is the number of buffered frames skipped before reading one.
type Discard struct {
	Motion int `yaml:"motion"`
	Detect int `yaml:"detect"`
}

// Camera is one configured camera.
type Camera struct {
	Name       string         `yaml:"name"`
	StreamURL  string         `yaml:"stream_url"`
	MotionURL  string         `yaml:"motion_url,omitempty"` // lighter sub-stream; defaults to StreamURL
	StreamKey  string         `yaml:"stream_key"`           // relay sink key
	WebhookURL string         `yaml:"webhook_url,omitempty"`
	Message    string         `yaml:"message,omitempty"`
	Motion     TuningOverride `yaml:"motion,omitempty"`
}

// MotionSource returns the locator used for the cheap motion check.
func (c Camera) MotionSource() string {
	if c.MotionURL != "" {
		return c.MotionURL
	}
	return c.StreamURL
}

// Detection configures the object-detection backend.
type Detection struct {
	Mode        string   `yaml:"mode"`     // remote or local
	Endpoint    string   `yaml:"endpoint"` // remote: GET <endpoint>?rtsp_url=
	Listen      string   `yaml:"listen"`   // detect-serve bind address
	Weights     string   `yaml:"weights"`
	ModelConfig string   `yaml:"model_config"`
	Names       string   `yaml:"names"`
	Confidence  float64  `yaml:"confidence"`
	ImageSize   int      `yaml:"image_size"`
	Targets     []string `yaml:"targets"`
	SnapshotDir string   `yaml:"snapshot_dir,omitempty"`
}

// Relay configures the ffmpeg copy relay started while a target is present.
type Relay struct {
	FFmpegBin      string        `yaml:"ffmpeg_bin"`
	HLSRoot        string        `yaml:"hls_root"`
	IndexM3U8      string        `yaml:"index_m3u8"`
	LiveStartIndex int           `yaml:"live_start_index"`
	RTMPBase       string        `yaml:"rtmp_base"`
	StopGrace      time.Duration `yaml:"stop_grace"`
}

// YouTube configures live broadcast bookkeeping. Disabled means no-op.
type YouTube struct {
	Enabled           bool          `yaml:"enabled"`
	ClientSecretsFile string        `yaml:"client_secrets_file"`
	TokenFile         string        `yaml:"token_file"`
	PlaylistID        string        `yaml:"playlist_id"`
	VideoURL          string        `yaml:"video_url"`
	GoLiveAttempts    int           `yaml:"go_live_attempts"`
	GoLiveRetryDelay  time.Duration `yaml:"go_live_retry_delay"`
	BroadcastTTL      time.Duration `yaml:"broadcast_ttl"`
}

// Notify configures outbound notifications.
type Notify struct {
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	MQTT           MQTT          `yaml:"mqtt"`
}

// MQTT is optional; an empty Broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Default returns a configuration with every default filled in and no cameras.
func Default() *Config {
	return &Config{
		CheckInterval: 800 * time.Millisecond,
		Timeouts: Timeouts{
			Capture:  10 * time.Second,
			Detect:   30 * time.Second,
			Pipeline: 30 * time.Second,
		},
		Discard: Discard{Motion: 5, Detect: 15},
		Motion:  DefaultTuning(),
		Detection: Detection{
			Mode:       "remote",
			Endpoint:   "http://127.0.0.1:8001/detect",
			Listen:     ":8001",
			Confidence: 0.50,
			ImageSize:  640,
			Targets:    []string{"person", "bird", "cat", "dog"},
		},
		Relay: Relay{
			FFmpegBin:      "/usr/bin/ffmpeg",
			HLSRoot:        "/dev/shm/hls",
			IndexM3U8:      "index.m3u8",
			LiveStartIndex: -30,
			RTMPBase:       "rtmps://a.rtmp.youtube.com/live2",
			StopGrace:      3 * time.Second,
		},
		YouTube: YouTube{
			TokenFile:        "token.json",
			VideoURL:         "https://www.youtube.com/watch?v=",
			GoLiveAttempts:   3,
			GoLiveRetryDelay: 5 * time.Second,
			BroadcastTTL:     12 * time.Hour,
		},
		Notify: Notify{
			WebhookTimeout: 10 * time.Second,
			MQTT:           MQTT{ClientID: "motionwatch", TopicPrefix: "motionwatch"},
		},
		Log: logging.Options{Level: "info", Format: "console"},
	}
}

// Load reads, parses and validates a YAML configuration file. Fields omitted
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read parses a YAML configuration file without validating it.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(data)
}

// Parse decodes YAML bytes on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the scheduler cannot run with.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return ErrNoCameras
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %v", c.CheckInterval)
	}
	if c.Timeouts.Capture <= 0 || c.Timeouts.Pipeline <= 0 {
		return fmt.Errorf("timeouts must be positive, got capture=%v pipeline=%v",
			c.Timeouts.Capture, c.Timeouts.Pipeline)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Discard.Motion < 0 || c.Discard.Detect < 0 {
		return fmt.Errorf("discard counts must not be negative")
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		if cam.Name == "" {
			return fmt.Errorf("camera %d: name is required", i)
		}
		if seen[cam.Name] {
			return fmt.Errorf("camera %q: duplicate name", cam.Name)
		}
		seen[cam.Name] = true
		if cam.StreamURL == "" {
			return fmt.Errorf("camera %q: stream_url is required", cam.Name)
		}
		if err := c.Tuning(cam).Validate(); err != nil {
			return fmt.Errorf("camera %q: %w", cam.Name, err)
		}
	}

	if err := c.ValidateDetection(); err != nil {
		return err
	}

	if c.YouTube.Enabled && c.YouTube.ClientSecretsFile == "" {
		return fmt.Errorf("youtube.client_secrets_file is required when youtube is enabled")
	}
	return nil
}

// ValidateDetection checks only the detection block, which is all the
// detect-serve command needs.
func (c *Config) ValidateDetection() error {
	switch c.Detection.Mode {
	case "remote":
		if c.Detection.Endpoint == "" {
			return fmt.Errorf("detection.endpoint is required in remote mode")
		}
	case "local":
		if c.Detection.Weights == "" || c.Detection.Names == "" {
			return fmt.Errorf("detection.weights and detection.names are required in local mode")
		}
	default:
		return fmt.Errorf("unknown detection mode %q (must be remote or local)", c.Detection.Mode)
	}
	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		return fmt.Errorf("detection.confidence must be in [0,1], got %v", c.Detection.Confidence)
	}
	if c.Timeouts.Detect <= 0 {
		return fmt.Errorf("timeouts must be positive, got detect=%v", c.Timeouts.Detect)
	}
	if c.Detection.ImageSize <= 0 {
		return fmt.Errorf("detection.image_size must be positive, got %d", c.Detection.ImageSize)
	}
	return nil
}

// WorkerCount returns the size of the per-tick worker pool.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return len(c.Cameras)
}

// Camera looks a camera up by name.
func (c *Config) Camera(name string) (Camera, bool) {
	for _, cam := range c.Cameras {
		if cam.Name == name {
			return cam, true
		}
	}
	return Camera{}, false
}
