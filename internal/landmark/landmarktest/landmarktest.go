// Package landmarktest builds synthetic FaceMesh detections for tests.
//
// Faces are laid out for a 640x480 frame so that a frontal face has zero yaw
// and roll, a nose drop of half the inter-ocular distance and open eyes with an
// eye aspect ratio of 0.3.
package landmarktest

import (
	"math"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// Frame dimensions the fixtures are calibrated for.
const (
	Width  = 640
	Height = 480
)

// aspect converts a horizontal normalized length into the vertical normalized
// length covering the same number of pixels.
const aspect = float64(Width) / float64(Height)

// Face returns a frontal detection centered at (cx, cy) whose box is w wide.
func Face(cx, cy, w float64) landmark.Detection {
	pts := make(landmark.Set, landmark.FaceMeshPoints)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / float64(len(pts))
		pts[i] = landmark.Point{
			X: cx + 0.45*w*math.Cos(theta),
			Y: cy + 0.8*w*aspect*0.5*math.Sin(theta),
			Z: 0.01 * math.Sin(3*theta),
		}
	}

	eyeY := cy - 0.1*w
	gap := 0.06 * w * aspect // open eye, EAR 0.3 in pixel space
	layout := landmark.DefaultLayout()

	setEye(pts, layout.LeftEye, cx-0.33*w, cx-0.13*w, eyeY, gap)
	setEye(pts, layout.RightEye, cx+0.13*w, cx+0.33*w, eyeY, gap)
	pts[layout.NoseTip] = landmark.Point{X: cx, Y: eyeY + 0.33*w*aspect, Z: -0.05}

	h := 1.3 * w * aspect
	return landmark.Detection{
		Landmarks: pts,
		Box:       landmark.BoundingBox{Left: cx - w/2, Top: cy - h/2, Width: w, Height: h},
		Score:     0.99,
	}
}

// Frontal returns a well-framed face in the middle of the frame.
func Frontal() landmark.Detection {
	return Face(0.5, 0.5, 0.25)
}

// setEye places the six eye-aspect-ratio points of one eye between the corners
// x1 and x4, with the lids gap apart vertically.
func setEye(pts landmark.Set, idx [6]int, x1, x4, y, gap float64) {
	w := x4 - x1
	pts[idx[0]] = landmark.Point{X: x1, Y: y}
	pts[idx[1]] = landmark.Point{X: x1 + 0.35*w, Y: y - gap/2}
	pts[idx[2]] = landmark.Point{X: x1 + 0.65*w, Y: y - gap/2}
	pts[idx[3]] = landmark.Point{X: x4, Y: y}
	pts[idx[4]] = landmark.Point{X: x1 + 0.65*w, Y: y + gap/2}
	pts[idx[5]] = landmark.Point{X: x1 + 0.35*w, Y: y + gap/2}
}

// ClosedEyes returns a copy of d with both eyes nearly shut.
func ClosedEyes(d landmark.Detection) landmark.Detection {
	out := Clone(d)
	layout := landmark.DefaultLayout()
	for _, eye := range [][6]int{layout.LeftEye, layout.RightEye} {
		y := out.Landmarks[eye[0]].Y
		for _, i := range []int{eye[1], eye[2]} {
			out.Landmarks[i].Y = y - 0.001
		}
		for _, i := range []int{eye[4], eye[5]} {
			out.Landmarks[i].Y = y + 0.001
		}
	}
	return out
}

// Turned returns a copy of d with the nose shifted horizontally by frac of the
// box width, which reads as yaw.
func Turned(d landmark.Detection, frac float64) landmark.Detection {
	out := Clone(d)
	nose := landmark.DefaultLayout().NoseTip
	out.Landmarks[nose].X += frac * d.Box.Width
	return out
}

// Tilted returns a copy of d with the right eye raised by dy (normalized).
func Tilted(d landmark.Detection, dy float64) landmark.Detection {
	out := Clone(d)
	layout := landmark.DefaultLayout()
	for _, i := range layout.RightEye {
		out.Landmarks[i].Y -= dy
	}
	return out
}

// Translate returns a copy of s moved by (dx, dy, dz).
func Translate(s landmark.Set, dx, dy, dz float64) landmark.Set {
	out := make(landmark.Set, len(s))
	for i, p := range s {
		out[i] = landmark.Point{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
	}
	return out
}

// ScaleSet returns a copy of s scaled by k around the origin.
func ScaleSet(s landmark.Set, k float64) landmark.Set {
	out := make(landmark.Set, len(s))
	for i, p := range s {
		out[i] = landmark.Point{X: p.X * k, Y: p.Y * k, Z: p.Z * k}
	}
	return out
}

// Clone deep-copies a detection.
func Clone(d landmark.Detection) landmark.Detection {
	out := d
	out.Landmarks = append(landmark.Set(nil), d.Landmarks...)
	return out
}

// Frame returns a fixture-sized frame with a known mean luminance.
func Frame(luminance float64) landmark.Frame {
	return landmark.Frame{Width: Width, Height: Height, Luminance: &luminance}
}
