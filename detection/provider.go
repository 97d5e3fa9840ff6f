package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"motionwatch/logging"
)

var (
	// ErrNoFrame means no frame could be read from the source.
	ErrNoFrame = errors.New("no frame available")
	// ErrBackend means the inference backend failed or answered unexpectedly.
	ErrBackend = errors.New("detection backend failure")
)

// Detector answers which target labels are present at a source right now.
type Detector interface {
	Detect(ctx context.Context, source string) ([]string, error)
}

// Model locates the network files and the input size the network expects.
type Model struct {
	Weights   string
	Config    string
	Names     string
	ImageSize int
}

// InferenceProvider runs the object-detection network on a single frame.
type InferenceProvider interface {
	Initialize(model Model) error
	Detect(frame gocv.Mat) (*Result, error)
	Close() error
	Info() ProviderInfo
}

// ProviderInfo contains information about the inference provider
type ProviderInfo struct {
	Type     string        `json:"type"`    // "GPU" or "CPU"
	Backend  string        `json:"backend"` // "OpenCV CUDA", "OpenCV CPU"
	Device   string        `json:"device"`
	InitTime time.Duration `json:"init_time"`
}

// ProviderManager picks the best available provider once and then serves
// every Detect call through it.
type ProviderManager struct {
	mu       sync.RWMutex
	provider InferenceProvider
	info     ProviderInfo
	gpuProbe func() bool
	log      zerolog.Logger
}

// NewProviderManager creates a manager that probes for a usable GPU first.
func NewProviderManager() *ProviderManager {
	return &ProviderManager{
		gpuProbe: hasGPUCapability,
		log:      logging.Component("provider"),
	}
}

// Initialize loads the model on the GPU when possible and falls back to the CPU.
// Calling it again after a successful load is a no-op.
func (pm *ProviderManager) Initialize(model Model) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.provider != nil {
		return nil
	}

	pm.log.Info().Str("weights", model.Weights).Msg("Auto-detecting best inference provider...")

	if pm.gpuProbe() {
		pm.log.Info().Msg("GPU capability detected, attempting GPU initialization...")
		gpu := NewGPUProvider()
		start := time.Now()
		if err := gpu.Initialize(model); err != nil {
			pm.log.Warn().Err(err).Msg("GPU initialization failed, falling back to CPU")
		} else if testProvider(gpu, model.ImageSize) {
			pm.use(gpu, time.Since(start))
			return nil
		} else {
			pm.log.Warn().Msg("GPU test inference failed, falling back to CPU")
			gpu.Close()
		}
	} else {
		pm.log.Info().Msg("No GPU capability detected")
	}

	cpu := NewCPUProvider()
	start := time.Now()
	if err := cpu.Initialize(model); err != nil {
		return fmt.Errorf("both GPU and CPU providers failed: %w", err)
	}
	pm.use(cpu, time.Since(start))
	return nil
}

func (pm *ProviderManager) use(p InferenceProvider, took time.Duration) {
	pm.provider = p
	pm.info = p.Info()
	pm.info.InitTime = took
	pm.log.Info().
		Str("type", pm.info.Type).
		Str("backend", pm.info.Backend).
		Dur("init_time", took).
		Msg("Inference provider ready")
}

// Detect runs the active provider. The read lock is held for the whole
// inference so Close cannot free the network underneath it.
func (pm *ProviderManager) Detect(frame gocv.Mat) (*Result, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.provider == nil {
		return nil, fmt.Errorf("%w: provider not initialized", ErrBackend)
	}
	return pm.provider.Detect(frame)
}

// Info returns information about the active provider.
func (pm *ProviderManager) Info() ProviderInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.info
}

// Close waits for in-flight inferences and closes the active provider.
func (pm *ProviderManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.provider == nil {
		return nil
	}
	err := pm.provider.Close()
	pm.provider = nil
	return err
}

// testProvider performs a quick inference to verify the provider works
func testProvider(p InferenceProvider, size int) bool {
	frame := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer frame.Close()

	_, err := p.Detect(frame)
	return err == nil
}

func inputSize(size int) image.Point {
	if size <= 0 {
		size = 640
	}
	return image.Pt(size, size)
}
