package landmark

import "math"

// Distance2D returns the Euclidean distance between two points in the image plane.
func Distance2D(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Distance3D returns the Euclidean distance between two points including depth.
func Distance3D(a, b Point) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}

// At returns the point at index i and whether it exists.
func (s Set) At(i int) (Point, bool) {
	if i < 0 || i >= len(s) {
		return Point{}, false
	}
	return s[i], true
}

// Centroid returns the mean of all points. An empty set yields the zero point.
func (s Set) Centroid() Point {
	if len(s) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range s {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	n := float64(len(s))
	return Point{X: c.X / n, Y: c.Y / n, Z: c.Z / n}
}

// Bounds returns the tight bounding box around the set.
func (s Set) Bounds() BoundingBox {
	if len(s) == 0 {
		return BoundingBox{}
	}
	minX, minY := s[0].X, s[0].Y
	maxX, maxY := s[0].X, s[0].Y
	for _, p := range s[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	return BoundingBox{Left: minX, Top: minY, Width: maxX - minX, Height: maxY - minY}
}

// Scale returns the pixel-space copy of p for a frame of the given size.
// Non-positive dimensions leave the point unchanged.
func (p Point) Scale(width, height int) Point {
	if width <= 0 || height <= 0 {
		return p
	}
	return Point{X: p.X * float64(width), Y: p.Y * float64(height), Z: p.Z * float64(width)}
}

// Center returns the center of the box.
func (b BoundingBox) Center() (float64, float64) {
	return b.Left + b.Width/2, b.Top + b.Height/2
}

// Corners returns the box as [x1, y1, x2, y2].
func (b BoundingBox) Corners() []float64 {
	return []float64{b.Left, b.Top, b.Left + b.Width, b.Top + b.Height}
}

// IsZero reports whether the box is empty.
func (b BoundingBox) IsZero() bool {
	return b.Width <= 0 || b.Height <= 0
}

// BoxFromPixels converts a pixel box [x1, y1, x2, y2] to a normalized BoundingBox.
// Invalid input yields the zero box.
func BoxFromPixels(bbox []float64, width, height int) BoundingBox {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return BoundingBox{}
	}
	x1 := bbox[0] / float64(width)
	y1 := bbox[1] / float64(height)
	x2 := bbox[2] / float64(width)
	y2 := bbox[3] / float64(height)
	return BoundingBox{Left: x1, Top: y1, Width: x2 - x1, Height: y2 - y1}
}

// ComputeIoU calculates Intersection over Union between two boxes.
func ComputeIoU(a, b BoundingBox) float64 {
	x1 := max(a.Left, b.Left)
	y1 := max(a.Top, b.Top)
	x2 := min(a.Left+a.Width, b.Left+b.Width)
	y2 := min(a.Top+a.Height, b.Top+b.Height)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Width*a.Height + b.Width*b.Height - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
