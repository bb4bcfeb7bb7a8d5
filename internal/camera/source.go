// Package camera provides frame sources: a V4L2 webcam on Linux and a replay of
// recorded detection streams.
package camera

import (
	"errors"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// ErrClosed is returned when starting a closed source.
var ErrClosed = errors.New("frame source closed")

// Source produces frames while started. Stop freezes the source without
// releasing it; Close releases it and closes the Frames channel.
type Source interface {
	Start() error
	Stop()
	Frames() <-chan landmark.Frame
	Err() error
	Close() error
}
