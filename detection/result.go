package detection

import (
	"fmt"
	"image"
	"sort"
)

// Result holds the raw detections for one frame in parallel slices.
type Result struct {
	Rects       []image.Rectangle
	ClassNames  []string
	Confidences []float64
}

// Add appends one detection.
func (r *Result) Add(class string, confidence float64, rect image.Rectangle) {
	r.Rects = append(r.Rects, rect)
	r.ClassNames = append(r.ClassNames, class)
	r.Confidences = append(r.Confidences, confidence)
}

// Len returns the number of detections.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ClassNames)
}

// Filter keeps detections whose class is a target and whose confidence
// reaches minConfidence.
func (r *Result) Filter(targets map[string]bool, minConfidence float64) *Result {
	out := &Result{}
	for i := 0; i < r.Len(); i++ {
		if targets[r.ClassNames[i]] && r.Confidences[i] >= minConfidence {
			out.Add(r.ClassNames[i], r.Confidences[i], r.Rects[i])
		}
	}
	return out
}

// Labels returns one "<class> (<confidence>)" label per class using the
// best confidence seen, highest first.
func (r *Result) Labels() []string {
	best := make(map[string]float64)
	for i := 0; i < r.Len(); i++ {
		if c, ok := best[r.ClassNames[i]]; !ok || r.Confidences[i] > c {
			best[r.ClassNames[i]] = r.Confidences[i]
		}
	}

	classes := make([]string, 0, len(best))
	for class := range best {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		if best[classes[i]] != best[classes[j]] {
			return best[classes[i]] > best[classes[j]]
		}
		return classes[i] < classes[j]
	})

	labels := make([]string, len(classes))
	for i, class := range classes {
		labels[i] = FormatLabel(class, best[class])
	}
	return labels
}

// FormatLabel renders a detection label.
func FormatLabel(class string, confidence float64) string {
	return fmt.Sprintf("%s (%.2f)", class, confidence)
}

// TargetSet turns a class list into a lookup set.
func TargetSet(classes []string) map[string]bool {
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return set
}
