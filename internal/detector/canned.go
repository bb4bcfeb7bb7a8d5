package detector

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// Canned answers every frame with the same detections. It is used for
// kiosks driven by pushed detections and in tests.
type Canned struct {
	mu         sync.RWMutex
	detections []landmark.Detection
	err        error
	calls      int
}

// NewCanned returns a detector answering with detections.
func NewCanned(detections ...landmark.Detection) *Canned {
	return &Canned{detections: detections}
}

// Set replaces the answer.
func (c *Canned) Set(detections []landmark.Detection, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detections = detections
	c.err = err
}

// Calls returns how many frames were detected.
func (c *Canned) Calls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

// Detect returns the canned answer.
func (c *Canned) Detect(ctx context.Context, frame landmark.Frame) ([]landmark.Detection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]landmark.Detection, len(c.detections))
	copy(out, c.detections)
	return out, nil
}
