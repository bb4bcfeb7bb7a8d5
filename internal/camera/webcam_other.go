//go:build !linux

package camera

import (
	"errors"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// Webcam is unavailable outside Linux.
type Webcam struct{}

// NewWebcam returns a source whose Start always fails.
func NewWebcam(device string, width, height int) *Webcam {
	return &Webcam{}
}

// Start fails: V4L2 capture requires Linux.
func (w *Webcam) Start() error {
	return errors.New("webcam capture requires linux")
}

// Stop does nothing.
func (w *Webcam) Stop() {}

// Frames returns a nil channel.
func (w *Webcam) Frames() <-chan landmark.Frame { return nil }

// Err returns nil.
func (w *Webcam) Err() error { return nil }

// Close does nothing.
func (w *Webcam) Close() error { return nil }
