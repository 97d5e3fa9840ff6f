package detection

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func sample() *Result {
	r := &Result{}
	r.Add("person", 0.62, image.Rect(0, 0, 10, 10))
	r.Add("car", 0.99, image.Rect(0, 0, 10, 10))
	r.Add("person", 0.88, image.Rect(5, 5, 20, 20))
	r.Add("dog", 0.49, image.Rect(1, 1, 4, 4))
	r.Add("cat", 0.50, image.Rect(2, 2, 8, 8))
	return r
}

func TestFilterKeepsTargetsAboveConfidence(t *testing.T) {
	hits := sample().Filter(TargetSet([]string{"person", "bird", "cat", "dog"}), 0.5)

	if diff := cmp.Diff([]string{"person", "person", "cat"}, hits.ClassNames); diff != "" {
		t.Errorf("classes mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, hits.Rects, 3)
	assert.Len(t, hits.Confidences, 3)
}

func TestLabelsBestPerClassHighestFirst(t *testing.T) {
	got := sample().Filter(TargetSet([]string{"person", "cat"}), 0.5).Labels()

	want := []string{"person (0.88)", "cat (0.50)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestLabelsTieBreaksByName(t *testing.T) {
	r := &Result{}
	r.Add("dog", 0.7, image.Rectangle{})
	r.Add("bird", 0.7, image.Rectangle{})

	assert.Equal(t, []string{"bird (0.70)", "dog (0.70)"}, r.Labels())
}

func TestEmptyResult(t *testing.T) {
	var r *Result
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Filter(TargetSet([]string{"person"}), 0).Labels())
}

func TestFormatLabel(t *testing.T) {
	assert.Equal(t, "person (0.91)", FormatLabel("person", 0.9149))
}
