// Package facematch turns landmark sets into comparable feature vectors and
// matches them against enrolled templates.
package facematch

// FeatureVector is a normalized landmark set flattened in index order.
type FeatureVector []float64

// Float32 converts the vector for storage and index backends.
func (v FeatureVector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// FromFloat32 converts a stored vector back to a FeatureVector.
func FromFloat32(v []float32) FeatureVector {
	out := make(FeatureVector, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// Template is one enrolled feature vector of an identity.
type Template struct {
	TemplateID string
	IdentityID string
	Name       string
	Vector     FeatureVector
}

// Result is the outcome of matching a probe against a gallery.
// IdentityID is empty when nothing cleared the threshold; Score then holds the
// best score observed (or zero when nothing was comparable).
type Result struct {
	IdentityID string  `json:"identity_id,omitempty"`
	TemplateID string  `json:"template_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Score      float64 `json:"score"`
	Metric     string  `json:"metric"`
	Threshold  float64 `json:"threshold"`
	Accepted   bool    `json:"accepted"`
	Compared   int     `json:"compared"`
	Skipped    int     `json:"skipped,omitempty"`
}
