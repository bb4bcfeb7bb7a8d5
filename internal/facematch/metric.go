package facematch

import (
	"fmt"
	"math"

	"github.com/kozaktomas/face-checkin/internal/constants"
)

// Metric names accepted by MetricByName.
const (
	MetricMeanDistance = "mean_distance"
	MetricCosine       = "cosine"
)

// SimilarityMetric scores a probe against one template.
type SimilarityMetric interface {
	// Name identifies the metric in configuration and results.
	Name() string
	// Score compares two vectors. ok is false when they are not comparable.
	Score(probe, template FeatureVector) (score float64, ok bool)
	// Accepts reports whether score clears threshold.
	Accepts(score, threshold float64) bool
	// Better reports whether a is strictly better than b.
	Better(a, b float64) bool
	// DefaultThreshold is the acceptance threshold used when none is configured.
	DefaultThreshold() float64
}

// MetricByName returns the metric for a configuration value.
func MetricByName(name string) (SimilarityMetric, error) {
	switch name {
	case MetricMeanDistance, "":
		return MeanPointDistance{}, nil
	case MetricCosine:
		return Cosine{}, nil
	default:
		return nil, fmt.Errorf("unknown match metric %q (expected %s or %s)", name, MetricMeanDistance, MetricCosine)
	}
}

// MeanPointDistance averages the Euclidean distance between corresponding
// points. Lower is better; a match must be below the threshold.
type MeanPointDistance struct{}

func (MeanPointDistance) Name() string { return MetricMeanDistance }

func (MeanPointDistance) Score(probe, template FeatureVector) (float64, bool) {
	const dims = constants.PointDims
	if len(probe) == 0 || len(probe) != len(template) || len(probe)%dims != 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < len(probe); i += dims {
		var sq float64
		for j := i; j < i+dims; j++ {
			d := probe[j] - template[j]
			sq += d * d
		}
		sum += math.Sqrt(sq)
	}
	return sum / float64(len(probe)/dims), true
}

func (MeanPointDistance) Accepts(score, threshold float64) bool { return score < threshold }

func (MeanPointDistance) Better(a, b float64) bool { return a < b }

func (MeanPointDistance) DefaultThreshold() float64 { return constants.DefaultDistanceThreshold }

// Cosine compares the flattened vectors by cosine similarity. Higher is
// better; a match must be above the threshold.
type Cosine struct{}

func (Cosine) Name() string { return MetricCosine }

func (Cosine) Score(probe, template FeatureVector) (float64, bool) {
	if len(probe) == 0 || len(probe) != len(template) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range probe {
		dot += probe[i] * template[i]
		normA += probe[i] * probe[i]
		normB += template[i] * template[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp floating point drift
	return max(-1, min(1, sim)), true
}

func (Cosine) Accepts(score, threshold float64) bool { return score > threshold }

func (Cosine) Better(a, b float64) bool { return a > b }

func (Cosine) DefaultThreshold() float64 { return constants.DefaultSimilarityThreshold }
