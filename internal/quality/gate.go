// Package quality decides whether a single frame shows one usable face.
//
// The gate evaluates its checks in a fixed priority order and reports only the
// first failure, so the operator always gets exactly one actionable instruction.
// Evaluation is pure: it never blocks, logs or mutates shared state.
package quality

import (
	"math"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// Gate evaluates detection results against a fixed set of thresholds.
type Gate struct {
	cfg Config
}

// NewGate creates a gate for the given thresholds.
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Config returns the thresholds in effect.
func (g *Gate) Config() Config {
	return g.cfg
}

// WithOpenEyes returns a copy of the gate with the eye-state check toggled.
func (g *Gate) WithOpenEyes(required bool) *Gate {
	cfg := g.cfg
	cfg.RequireOpenEyes = required
	return &Gate{cfg: cfg}
}

// evaluation carries intermediate state between checks.
type evaluation struct {
	frame  landmark.Frame
	face   landmark.Detection
	report *Report
}

type checkFunc func(g *Gate, ev *evaluation) CheckResult

var checks = map[Check]checkFunc{
	CheckExposure:  (*Gate).checkExposure,
	CheckDistance:  (*Gate).checkDistance,
	CheckCutoff:    (*Gate).checkCutoff,
	CheckCentering: (*Gate).checkCentering,
	CheckPose:      (*Gate).checkPose,
	CheckEyes:      (*Gate).checkEyes,
}

// Evaluate runs every check in order on one frame's detections.
func (g *Gate) Evaluate(frame landmark.Frame, detections []landmark.Detection) Report {
	report := Report{
		Valid:     true,
		FaceCount: len(detections),
		Checks:    make([]CheckResult, 0, len(Order)),
	}

	count := g.checkFaceCount(len(detections))
	report.Checks = append(report.Checks, count)
	if count.Outcome == OutcomeFail {
		return report.fail(count, 1)
	}

	face := detections[0]
	report.Face = &face
	ev := &evaluation{frame: frame, face: face, report: &report}

	for i, c := range Order[1:] {
		res := checks[c](g, ev)
		report.Checks = append(report.Checks, res)
		if res.Outcome == OutcomeFail {
			return report.fail(res, i+2)
		}
	}
	return report
}

// fail records the failing check and marks the remaining ones as not evaluated.
func (r Report) fail(res CheckResult, evaluated int) Report {
	r.Valid = false
	r.Failed = res.Check
	r.Reason = res.Reason
	for _, c := range Order[evaluated:] {
		r.Checks = append(r.Checks, CheckResult{Check: c, Outcome: OutcomeNotEvaluated})
	}
	return r
}

func (g *Gate) checkFaceCount(n int) CheckResult {
	res := CheckResult{Check: CheckFaceCount, Outcome: OutcomePass, Value: float64(n)}
	switch {
	case n == 0:
		res.Outcome, res.Reason = OutcomeFail, ReasonNoFace
	case n > 1:
		res.Outcome, res.Reason = OutcomeFail, ReasonMultipleFaces
	}
	return res
}

func (g *Gate) checkExposure(ev *evaluation) CheckResult {
	res := CheckResult{Check: CheckExposure, Outcome: OutcomePass}

	var lum float64
	switch {
	case ev.frame.Image != nil:
		region := ev.frame.Image.Bounds()
		if g.cfg.ExposureRegion == RegionFace && !ev.face.Box.IsZero() {
			b := ev.face.Box
			region = pixelRect(ev.frame.Image, b.Left, b.Top, b.Width, b.Height)
		}
		lum = MeanLuminance(ev.frame.Image, region)
	case ev.frame.Luminance != nil:
		lum = *ev.frame.Luminance
	default:
		res.Outcome = OutcomeSkipped
		return res
	}

	ev.report.Luminance = &lum
	res.Value = lum
	switch {
	case lum < g.cfg.LuminanceLow:
		res.Outcome, res.Reason = OutcomeFail, ReasonTooDark
	case lum > g.cfg.LuminanceHigh:
		res.Outcome, res.Reason = OutcomeFail, ReasonTooBright
	}
	return res
}

// faceSize returns the configured size proxy as a fraction of frame width.
func (g *Gate) faceSize(ev *evaluation) float64 {
	if g.cfg.DistanceProxy == ProxyInterOcular {
		l, okL := ev.face.Landmarks.At(g.cfg.Layout.LeftEyeOuter)
		r, okR := ev.face.Landmarks.At(g.cfg.Layout.RightEyeOuter)
		if okL && okR {
			if ev.frame.Width > 0 && ev.frame.Height > 0 {
				px := landmark.Distance2D(l.Scale(ev.frame.Width, ev.frame.Height), r.Scale(ev.frame.Width, ev.frame.Height))
				return px / float64(ev.frame.Width)
			}
			return landmark.Distance2D(l, r)
		}
	}
	if !ev.face.Box.IsZero() {
		return ev.face.Box.Width
	}
	return ev.face.Landmarks.Bounds().Width
}

func (g *Gate) checkDistance(ev *evaluation) CheckResult {
	size := g.faceSize(ev)
	ev.report.FaceSize = size

	res := CheckResult{Check: CheckDistance, Outcome: OutcomePass, Value: size}
	switch {
	case size < g.cfg.TooFar:
		res.Outcome, res.Reason = OutcomeFail, ReasonTooFar
	case size > g.cfg.TooClose:
		res.Outcome, res.Reason = OutcomeFail, ReasonTooClose
	}
	return res
}

func (g *Gate) checkCutoff(ev *evaluation) CheckResult {
	res := CheckResult{Check: CheckCutoff, Outcome: OutcomePass}
	m := g.cfg.CutoffMargin
	if m <= 0 {
		res.Outcome = OutcomeSkipped
		return res
	}

	inside := func(x, y float64) bool {
		return x >= m && x <= 1-m && y >= m && y <= 1-m
	}

	if len(ev.face.Landmarks) == 0 {
		b := ev.face.Box
		if !inside(b.Left, b.Top) || !inside(b.Left+b.Width, b.Top+b.Height) {
			res.Outcome, res.Reason = OutcomeFail, ReasonFaceCutOff
		}
		return res
	}

	outside := 0
	for _, p := range ev.face.Landmarks {
		if !inside(p.X, p.Y) {
			outside++
		}
	}
	res.Value = float64(outside)
	if outside > 0 {
		res.Outcome, res.Reason = OutcomeFail, ReasonFaceCutOff
	}
	return res
}

func (g *Gate) checkCentering(ev *evaluation) CheckResult {
	var cx, cy float64
	if !ev.face.Box.IsZero() {
		cx, cy = ev.face.Box.Center()
	} else {
		c := ev.face.Landmarks.Centroid()
		cx, cy = c.X, c.Y
	}

	// Offsets as a fraction of the frame half-width/half-height.
	offX := math.Abs(cx-0.5) / 0.5
	offY := math.Abs(cy-0.5) / 0.5
	off := max(offX, offY)

	res := CheckResult{Check: CheckCentering, Outcome: OutcomePass, Value: off}
	if off > g.cfg.CenteringTolerance {
		res.Outcome, res.Reason = OutcomeFail, ReasonNotCentered
	}
	return res
}

func (g *Gate) checkPose(ev *evaluation) CheckResult {
	res := CheckResult{Check: CheckPose, Outcome: OutcomePass}

	pose, ok := EstimatePose(ev.face.Landmarks, g.cfg.Layout, g.cfg.NeutralPitch, ev.frame.Width, ev.frame.Height)
	if !ok {
		ev.report.Violation = ViolationLandmarksIncomplete
		res.Outcome, res.Reason = OutcomeFail, ReasonHeadNotAligned
		return res
	}
	ev.report.Pose = &pose

	if math.Abs(pose.Yaw) > g.cfg.YawTolerance ||
		math.Abs(pose.Pitch) > g.cfg.PitchTolerance ||
		math.Abs(pose.Roll) > g.cfg.RollTolerance {
		res.Outcome, res.Reason = OutcomeFail, ReasonHeadNotAligned
	}
	return res
}

func (g *Gate) checkEyes(ev *evaluation) CheckResult {
	res := CheckResult{Check: CheckEyes, Outcome: OutcomePass}
	if !g.cfg.RequireOpenEyes {
		res.Outcome = OutcomeSkipped
		return res
	}

	w, h := ev.frame.Width, ev.frame.Height
	left, okL := EyeAspectRatio(ev.face.Landmarks, g.cfg.Layout.LeftEye, w, h)
	right, okR := EyeAspectRatio(ev.face.Landmarks, g.cfg.Layout.RightEye, w, h)
	if !okL || !okR {
		ev.report.Violation = ViolationDegenerateEyes
		res.Outcome, res.Reason = OutcomeFail, ReasonEyesClosed
		return res
	}

	ear := (left + right) / 2
	ev.report.EAR = ear
	res.Value = ear
	if ear < g.cfg.EyeOpenness {
		res.Outcome, res.Reason = OutcomeFail, ReasonEyesClosed
	}
	return res
}
