package quality

import "github.com/kozaktomas/face-checkin/internal/landmark"

// Check identifies one independent quality check.
type Check string

// Checks in evaluation order.
const (
	CheckFaceCount Check = "face_count"
	CheckExposure  Check = "exposure"
	CheckDistance  Check = "distance"
	CheckCutoff    Check = "cutoff"
	CheckCentering Check = "centering"
	CheckPose      Check = "pose"
	CheckEyes      Check = "eyes"
)

// Order is the fixed priority order; the first failing check is reported.
var Order = []Check{
	CheckFaceCount,
	CheckExposure,
	CheckDistance,
	CheckCutoff,
	CheckCentering,
	CheckPose,
	CheckEyes,
}

// Reason is the operator-facing reason of a failed check.
type Reason string

// Failure reasons.
const (
	ReasonNone           Reason = ""
	ReasonNoFace         Reason = "no face"
	ReasonMultipleFaces  Reason = "multiple faces"
	ReasonTooDark        Reason = "too dark"
	ReasonTooBright      Reason = "too bright"
	ReasonTooFar         Reason = "too far"
	ReasonTooClose       Reason = "too close"
	ReasonFaceCutOff     Reason = "face cut off"
	ReasonNotCentered    Reason = "not centered"
	ReasonHeadNotAligned Reason = "head not aligned"
	ReasonEyesClosed     Reason = "eyes closed"
)

// Outcome of a single check.
type Outcome string

// Check outcomes. NotEvaluated marks checks after the first failure.
const (
	OutcomePass         Outcome = "pass"
	OutcomeFail         Outcome = "fail"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeNotEvaluated Outcome = "not_evaluated"
)

// Violation names an input contract problem the gate worked around.
type Violation string

// Input contract violations.
const (
	ViolationNone                Violation = ""
	ViolationLandmarksIncomplete Violation = "landmarks_incomplete"
	ViolationDegenerateEyes      Violation = "degenerate_eye_geometry"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Check   Check   `json:"check"`
	Outcome Outcome `json:"outcome"`
	Reason  Reason  `json:"reason,omitempty"`
	Value   float64 `json:"value,omitempty"`
}

// Pose is the head pose estimate. Yaw is the horizontal eye-distance skew in
// [-1, 1], Pitch the nose drop below the eye line relative to its neutral value
// (in inter-ocular units) and Roll the eye-line angle in degrees.
type Pose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Report is the structured result of one gate evaluation.
type Report struct {
	Valid     bool          `json:"valid"`
	Failed    Check         `json:"failed,omitempty"`
	Reason    Reason        `json:"reason,omitempty"`
	Checks    []CheckResult `json:"checks"`
	FaceCount int           `json:"face_count"`
	Luminance *float64      `json:"luminance,omitempty"`
	FaceSize  float64       `json:"face_size,omitempty"`
	Pose      *Pose         `json:"pose,omitempty"`
	EAR       float64       `json:"ear,omitempty"`
	Violation Violation     `json:"violation,omitempty"`

	// Face is the single detected face when FaceCount is 1.
	Face *landmark.Detection `json:"-"`
}

// Result returns the outcome recorded for a check.
func (r Report) Result(c Check) (CheckResult, bool) {
	for _, cr := range r.Checks {
		if cr.Check == c {
			return cr, true
		}
	}
	return CheckResult{}, false
}

// Evaluated reports whether the check ran (passed, failed or skipped).
func (r Report) Evaluated(c Check) bool {
	cr, ok := r.Result(c)
	return ok && cr.Outcome != OutcomeNotEvaluated
}
