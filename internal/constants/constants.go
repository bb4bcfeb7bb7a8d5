// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Exposure constants (mean luma on a 0-255 scale)
const (
	// DefaultLuminanceLow is the mean luminance below which a frame is too dark
	DefaultLuminanceLow = 60.0

	// DefaultLuminanceHigh is the mean luminance above which a frame is too bright
	DefaultLuminanceHigh = 200.0

	// LuminanceSampleWidth is the width frames are downscaled to before measuring luminance
	LuminanceSampleWidth = 160
)

// Framing constants (fractions of the frame)
const (
	// DefaultTooFar is the face width below which the subject must move closer
	DefaultTooFar = 0.15

	// DefaultTooClose is the face width above which the subject must move back
	DefaultTooClose = 0.5

	// DefaultCutoffMargin is the border no landmark may enter; 0 disables the check
	DefaultCutoffMargin = 0.05

	// DefaultCenteringTolerance is the allowed offset from the frame center
	// as a fraction of the frame half-width/half-height
	DefaultCenteringTolerance = 0.2
)

// Pose and eye constants
const (
	// DefaultYawTolerance is the maximum horizontal eye-distance skew
	DefaultYawTolerance = 0.25

	// DefaultPitchTolerance is the maximum deviation of the nose drop from neutral,
	// in inter-ocular units
	DefaultPitchTolerance = 0.3

	// DefaultNeutralPitch is the nose drop below the eye line of a level head
	DefaultNeutralPitch = 0.5

	// DefaultRollToleranceDeg is the maximum eye-line angle in degrees
	DefaultRollToleranceDeg = 10.0

	// DefaultEyeOpenness is the minimum eye aspect ratio of open eyes
	DefaultEyeOpenness = 0.2
)

// Capture constants
const (
	// DefaultCountdownTicks is the number of consecutive valid ticks before capture
	DefaultCountdownTicks = 3

	// DefaultTickInterval is the countdown tick period
	DefaultTickInterval = time.Second
)

// Matching constants
const (
	// DefaultDistanceThreshold is the maximum mean per-point distance (inter-ocular units)
	// for an accepted match. Lower values = stricter matching
	DefaultDistanceThreshold = 0.1

	// DefaultSimilarityThreshold is the minimum cosine similarity for an accepted match
	DefaultSimilarityThreshold = 0.99

	// DefaultParallelMinGallery is the gallery size from which matching fans out to workers
	DefaultParallelMinGallery = 512

	// DefaultIndexMinGallery is the gallery size from which the HNSW prefilter is used; 0 disables it
	DefaultIndexMinGallery = 0

	// DefaultIndexCandidates is the number of HNSW candidates rescored exactly
	DefaultIndexCandidates = 32

	// PointDims is the number of coordinates per landmark in a feature vector
	PointDims = 3
)
