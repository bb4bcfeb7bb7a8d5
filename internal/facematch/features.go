package facematch

import (
	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// degenerateScale is the reference distance below which normalization falls
// back to scale 1.
const degenerateScale = 1e-12

// Normalize removes translation and scale from a landmark set. The centroid of
// all points is subtracted and every coordinate is divided by the 2D distance
// between the reference points left and right. When that distance is zero or a
// reference index is missing, scale 1 is used and degenerate is true.
func Normalize(set landmark.Set, left, right int) (vec FeatureVector, degenerate bool) {
	if len(set) == 0 {
		return nil, true
	}

	c := set.Centroid()
	scale := 1.0
	l, okL := set.At(left)
	r, okR := set.At(right)
	if d := landmark.Distance2D(l, r); okL && okR && d > degenerateScale {
		scale = 1 / d
	} else {
		degenerate = true
	}

	vec = make(FeatureVector, 0, len(set)*constants.PointDims)
	for _, p := range set {
		vec = append(vec,
			(p.X-c.X)*scale,
			(p.Y-c.Y)*scale,
			(p.Z-c.Z)*scale,
		)
	}
	return vec, degenerate
}

// Normalizer normalizes landmark sets for one layout and counts degenerate inputs.
type Normalizer struct {
	left, right int
	stats       *Stats
}

// NewNormalizer creates a normalizer using the layout's eye outer corners as
// reference points. stats may be nil.
func NewNormalizer(layout landmark.Layout, stats *Stats) *Normalizer {
	return &Normalizer{left: layout.LeftEyeOuter, right: layout.RightEyeOuter, stats: stats}
}

// Normalize returns the feature vector of set.
func (n *Normalizer) Normalize(set landmark.Set) (FeatureVector, bool) {
	vec, degenerate := Normalize(set, n.left, n.right)
	if degenerate && n.stats != nil {
		n.stats.degenerate.Add(1)
	}
	return vec, degenerate
}
