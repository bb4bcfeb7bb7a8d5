package quality

import (
	"math"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// EstimatePose derives yaw, pitch and roll from the eye outer corners and the
// nose tip. Points are scaled to pixel space when the frame size is known so the
// ratios do not depend on the frame aspect. ok is false when the set does not
// contain the reference points or the eyes coincide.
func EstimatePose(set landmark.Set, layout landmark.Layout, neutralPitch float64, width, height int) (Pose, bool) {
	l, okL := set.At(layout.LeftEyeOuter)
	r, okR := set.At(layout.RightEyeOuter)
	n, okN := set.At(layout.NoseTip)
	if !okL || !okR || !okN {
		return Pose{}, false
	}
	l, r, n = l.Scale(width, height), r.Scale(width, height), n.Scale(width, height)

	interOcular := landmark.Distance2D(l, r)
	if interOcular == 0 {
		return Pose{}, false
	}

	roll := math.Atan2(r.Y-l.Y, r.X-l.X) * 180 / math.Pi
	// Mirrored feeds put the right corner on the left; fold into [-90, 90].
	if roll > 90 {
		roll -= 180
	} else if roll < -90 {
		roll += 180
	}

	dl := math.Abs(n.X - l.X)
	dr := math.Abs(r.X - n.X)
	yaw := 1.0
	if dl+dr > 0 {
		yaw = (dl - dr) / (dl + dr)
	}

	mid := landmark.Midpoint(l, r)
	pitch := (n.Y-mid.Y)/interOcular - neutralPitch

	return Pose{Yaw: yaw, Pitch: pitch, Roll: roll}, true
}

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2|p1-p4|) for one eye.
// ok is false when an index is missing or the eye corners coincide.
func EyeAspectRatio(set landmark.Set, eye [6]int, width, height int) (float64, bool) {
	var p [6]landmark.Point
	for i, idx := range eye {
		pt, ok := set.At(idx)
		if !ok {
			return 0, false
		}
		p[i] = pt.Scale(width, height)
	}
	horizontal := landmark.Distance2D(p[0], p[3])
	if horizontal == 0 {
		return 0, false
	}
	vertical := landmark.Distance2D(p[1], p[5]) + landmark.Distance2D(p[2], p[4])
	return vertical / (2 * horizontal), true
}
