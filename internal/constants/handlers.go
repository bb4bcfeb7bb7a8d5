// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Handler constants
const (
	// DefaultHandlerPageSize is the page size for paginated handler endpoints
	DefaultHandlerPageSize = 100

	// MaxFrameBodySize is the maximum accepted size of a pushed frame in bytes (8MB)
	MaxFrameBodySize = 8 << 20
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Session constants
const (
	// DefaultSessionIdleTimeout is how long an untouched capture session lives
	DefaultSessionIdleTimeout = 10 * time.Minute

	// SessionCleanupInterval is how often expired capture sessions are removed
	SessionCleanupInterval = time.Minute

	// SessionCommandTimeout bounds how long a caller waits for a session to answer
	SessionCommandTimeout = 10 * time.Second
)

// Detector constants
const (
	// DefaultDetectorTimeout is the HTTP timeout for one landmark detection request
	DefaultDetectorTimeout = 5 * time.Second

	// DetectorDuplicateIoU is the overlap above which two detections are the same face
	DetectorDuplicateIoU = 0.7
)
