package detector

import (
	"slices"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// Deduplicate drops detections overlapping a higher-scoring detection by more
// than minIoU. Order of the survivors follows the input.
func Deduplicate(detections []landmark.Detection, minIoU float64) []landmark.Detection {
	if len(detections) < 2 {
		return detections
	}

	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case detections[a].Score > detections[b].Score:
			return -1
		case detections[a].Score < detections[b].Score:
			return 1
		}
		return 0
	})

	keep := make([]bool, len(detections))
	var kept []int
	for _, i := range order {
		dup := false
		for _, k := range kept {
			if landmark.ComputeIoU(detections[i].Box, detections[k].Box) > minIoU {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, i)
			keep[i] = true
		}
	}

	out := make([]landmark.Detection, 0, len(kept))
	for i, d := range detections {
		if keep[i] {
			out = append(out, d)
		}
	}
	return out
}
