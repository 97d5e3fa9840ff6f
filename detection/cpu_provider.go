package detection

import (
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// rawConfidenceFloor keeps weak detections for debug logging; target
// filtering applies the configured confidence afterwards.
const rawConfidenceFloor = 0.3

// netProvider runs a Darknet/ONNX YOLO network through the gocv DNN module.
type netProvider struct {
	backend    gocv.NetBackendType
	target     gocv.NetTargetType
	info       ProviderInfo
	net        gocv.Net
	classNames []string
	size       image.Point
	mu         sync.Mutex
	closed     bool
}

// NewCPUProvider returns a provider on the OpenCV CPU backend.
func NewCPUProvider() InferenceProvider {
	return &netProvider{
		backend: gocv.NetBackendDefault,
		target:  gocv.NetTargetCPU,
		info:    ProviderInfo{Type: "CPU", Backend: "OpenCV CPU", Device: "CPU"},
	}
}

func (p *netProvider) Initialize(model Model) error {
	p.net = gocv.ReadNet(model.Weights, model.Config)
	if p.net.Empty() {
		return fmt.Errorf("failed to load network from %s and %s", model.Weights, model.Config)
	}
	if err := p.net.SetPreferableBackend(p.backend); err != nil {
		p.net.Close()
		return fmt.Errorf("set backend: %w", err)
	}
	if err := p.net.SetPreferableTarget(p.target); err != nil {
		p.net.Close()
		return fmt.Errorf("set target: %w", err)
	}

	names, err := readClassNames(model.Names)
	if err != nil {
		p.net.Close()
		return err
	}
	p.classNames = names
	p.size = inputSize(model.ImageSize)
	return nil
}

func (p *netProvider) Detect(frame gocv.Mat) (*Result, error) {
	if frame.Empty() {
		return nil, ErrNoFrame
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: provider closed", ErrBackend)
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, p.size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	p.net.SetInput(blob, "")
	output := p.net.Forward("")
	defer output.Close()

	if output.Cols() <= 5 {
		return nil, fmt.Errorf("%w: unexpected output shape %dx%d", ErrBackend, output.Rows(), output.Cols())
	}

	// Rows are [cx, cy, w, h, objectness, class scores...] normalized to the input.
	width, height := float32(frame.Cols()), float32(frame.Rows())
	res := &Result{}
	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		scores := row.ColRange(5, row.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(scores)
		classID := maxLoc.X

		if maxVal >= rawConfidenceFloor && classID < len(p.classNames) {
			cx := row.GetFloatAt(0, 0) * width
			cy := row.GetFloatAt(0, 1) * height
			w := row.GetFloatAt(0, 2) * width
			h := row.GetFloatAt(0, 3) * height
			rect := image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2))
			res.Add(p.classNames[classID], float64(maxVal), rect)
		}

		scores.Close()
		row.Close()
	}
	return res, nil
}

func (p *netProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.net.Close()
}

func (p *netProvider) Info() ProviderInfo {
	return p.info
}

func readClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read class names: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		names = append(names, strings.TrimSpace(line))
	}
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("class names file %s is empty", path)
	}
	return names, nil
}
