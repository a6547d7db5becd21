package detection

import (
	"math"
	"testing"

	"pepperbot/internal/pipeline"

	"github.com/stretchr/testify/assert"
)

func box(x, y, w, h int) pipeline.BoundingBox {
	return pipeline.BoundingBox{X: x, Y: y, Width: w, Height: h}
}

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b pipeline.BoundingBox
		want float64
	}{
		{"identical", box(0, 0, 10, 10), box(0, 0, 10, 10), 1},
		{"disjoint", box(0, 0, 10, 10), box(20, 20, 10, 10), 0},
		{"touching edges", box(0, 0, 10, 10), box(10, 0, 10, 10), 0},
		{"contained 60 percent", box(0, 0, 100, 100), box(0, 0, 100, 60), 0.6},
		{"half overlap", box(0, 0, 10, 10), box(5, 0, 10, 10), 50.0 / 150.0},
		{"empty box", box(0, 0, 0, 0), box(0, 0, 10, 10), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IoU(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IoU() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNMSBoxesCollapsesOverlapKeepingHigherScore(t *testing.T) {
	boxes := []pipeline.BoundingBox{box(0, 0, 100, 100), box(0, 0, 100, 60)}
	scores := []float64{0.8, 0.9}

	keep := NMSBoxes(boxes, scores, 0.5, 0.4)
	assert.Equal(t, []int{1}, keep)
}

func TestNMSBoxesOrdersByScoreAndFiltersThreshold(t *testing.T) {
	boxes := []pipeline.BoundingBox{
		box(0, 0, 10, 10),
		box(100, 100, 10, 10),
		box(200, 200, 10, 10),
		box(300, 300, 10, 10),
	}
	scores := []float64{0.6, 0.95, 0.3, 0.7}

	keep := NMSBoxes(boxes, scores, 0.5, 0.4)
	assert.Equal(t, []int{1, 3, 0}, keep)
}

func TestNMSBoxesKeepsModerateOverlap(t *testing.T) {
	// IoU = 50/150 = 0.33, below the 0.4 threshold
	boxes := []pipeline.BoundingBox{box(0, 0, 10, 10), box(5, 0, 10, 10)}
	keep := NMSBoxes(boxes, []float64{0.9, 0.8}, 0.5, 0.4)
	assert.Len(t, keep, 2)
}

func TestNMSBoxesPairwiseBound(t *testing.T) {
	var boxes []pipeline.BoundingBox
	var scores []float64
	for i := 0; i < 40; i++ {
		boxes = append(boxes, box((i*7)%90, (i*13)%70, 30+i%20, 40+i%15))
		scores = append(scores, 0.5+float64(i%10)/20)
	}

	keep := NMSBoxes(boxes, scores, 0.5, 0.4)
	for i := range keep {
		for j := i + 1; j < len(keep); j++ {
			assert.LessOrEqual(t, IoU(boxes[keep[i]], boxes[keep[j]]), 0.4)
		}
	}
}
