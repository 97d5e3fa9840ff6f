package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gocv.io/x/gocv"

	"motionwatch/timeutil"
)

// HourLayout names the hourly snapshot subdirectories.
const HourLayout = "2006-01-02_03PM"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Snapshotter writes annotated detection frames under Dir/<hour>/.
type Snapshotter struct {
	Dir      string
	Renderer *Renderer
	Clock    timeutil.Clock
}

// NewSnapshotter returns a snapshotter rooted at dir.
func NewSnapshotter(dir string) *Snapshotter {
	return &Snapshotter{Dir: dir, Renderer: NewRenderer(), Clock: timeutil.RealClock{}}
}

// Save annotates a copy of frame and writes it as JPEG. It returns the file path.
func (s *Snapshotter) Save(frame gocv.Mat, name string, boxes []Box) (string, error) {
	if frame.Empty() {
		return "", fmt.Errorf("empty frame")
	}
	now := s.Clock.Now()

	dir := filepath.Join(s.Dir, now.Format(HourLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	img := frame.Clone()
	defer img.Close()
	s.Renderer.DrawDetections(&img, boxes)
	s.Renderer.DrawCaption(&img, fmt.Sprintf("%s %s", name, now.Format(time.DateTime)))

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", sanitize(name), now.Format("150405.000")))
	if !gocv.IMWrite(path, img) {
		return "", fmt.Errorf("write snapshot %s", path)
	}
	return path, nil
}

func sanitize(name string) string {
	clean := unsafeName.ReplaceAllString(name, "_")
	if clean == "" {
		return "frame"
	}
	return clean
}
