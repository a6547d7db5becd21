package detection

import (
	"sort"

	"pepperbot/internal/pipeline"
)

// IoU returns the intersection-over-union of two boxes
func IoU(a, b pipeline.BoundingBox) float64 {
	inter := a.Rect().Intersect(b.Rect())
	interArea := inter.Dx() * inter.Dy()
	if interArea <= 0 {
		return 0
	}
	union := a.Area() + b.Area() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}

// NMSBoxes performs greedy non-maximum suppression. Boxes scoring below
// scoreThreshold are ignored; a box is suppressed when its IoU with an
// already kept box exceeds iouThreshold. Kept indices are returned in
// descending score order.
func NMSBoxes(boxes []pipeline.BoundingBox, scores []float64, scoreThreshold, iouThreshold float64) []int {
	order := make([]int, 0, len(boxes))
	for i := range boxes {
		if i < len(scores) && scores[i] >= scoreThreshold {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	keep := make([]int, 0, len(order))
	for _, idx := range order {
		suppressed := false
		for _, k := range keep {
			if IoU(boxes[idx], boxes[k]) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, idx)
		}
	}
	return keep
}
