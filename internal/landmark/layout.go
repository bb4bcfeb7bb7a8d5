package landmark

// Layout names the landmark indices the pipeline relies on.
// Defaults follow the 468-point MediaPipe FaceMesh topology.
type Layout struct {
	LeftEyeOuter  int    `yaml:"left_eye_outer" json:"left_eye_outer"`
	RightEyeOuter int    `yaml:"right_eye_outer" json:"right_eye_outer"`
	NoseTip       int    `yaml:"nose_tip" json:"nose_tip"`
	LeftEye       [6]int `yaml:"left_eye" json:"left_eye"`
	RightEye      [6]int `yaml:"right_eye" json:"right_eye"`
}

// FaceMeshPoints is the cardinality of a FaceMesh landmark set without irises.
const FaceMeshPoints = 468

// DefaultLayout returns the FaceMesh layout.
func DefaultLayout() Layout {
	return Layout{
		LeftEyeOuter:  33,
		RightEyeOuter: 263,
		NoseTip:       1,
		// p1..p6 ordering for the eye aspect ratio: corners at p1/p4.
		LeftEye:  [6]int{33, 160, 158, 133, 153, 144},
		RightEye: [6]int{362, 385, 387, 263, 373, 380},
	}
}

// MaxIndex returns the highest index referenced by the layout.
func (l Layout) MaxIndex() int {
	m := max(l.LeftEyeOuter, l.RightEyeOuter, l.NoseTip)
	for _, i := range l.LeftEye {
		m = max(m, i)
	}
	for _, i := range l.RightEye {
		m = max(m, i)
	}
	return m
}

// Covers reports whether every index of the layout exists in a set of n points.
func (l Layout) Covers(n int) bool {
	return n > l.MaxIndex()
}
