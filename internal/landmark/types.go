// Package landmark defines the face landmark data model shared by the frame sources,
// detectors, the quality gate and the matcher.
package landmark

import (
	"context"
	"image"
	"time"
)

// Point is a single landmark in normalized image coordinates.
// X and Y are in [0, 1] relative to the frame; Z is a depth proxy and may be zero.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Set is an ordered landmark sequence. Index N always refers to the same
// anatomical point for a given detector model.
type Set []Point

// BoundingBox is a face box normalized to frame dimensions.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one face found in a frame.
type Detection struct {
	Landmarks Set         `json:"landmarks"`
	Box       BoundingBox `json:"box"`
	Score     float64     `json:"score,omitempty"`
}

// Frame is a single video frame. Image may be nil when the caller only has
// detections (e.g. frames pushed over HTTP); Luminance then carries the
// client-measured mean luminance on a 0-255 scale, if known.
type Frame struct {
	Seq        uint64
	Image      image.Image
	Width      int
	Height     int
	Luminance  *float64
	CapturedAt time.Time
}

// Detector finds faces in a frame. Zero detections is a valid result.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame Frame) ([]Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	return f(ctx, frame)
}
