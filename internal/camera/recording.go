package camera

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// maxRecordingLine bounds a single JSONL line (a 478-point detection is ~40KB).
const maxRecordingLine = 4 << 20

// RecordedFrame is one line of a recording: frame metadata plus the
// detections a landmark detector produced for it.
type RecordedFrame struct {
	Seq        uint64               `json:"seq"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Luminance  *float64             `json:"luminance,omitempty"`
	CapturedAt time.Time            `json:"captured_at,omitzero"`
	Detections []landmark.Detection `json:"detections"`
}

// Frame returns the pixel-less frame for the line.
func (r RecordedFrame) Frame() landmark.Frame {
	return landmark.Frame{
		Seq:        r.Seq,
		Width:      r.Width,
		Height:     r.Height,
		Luminance:  r.Luminance,
		CapturedAt: r.CapturedAt,
	}
}

// Recording is a sequence of recorded frames.
type Recording struct {
	Frames []RecordedFrame
}

// LoadRecording reads a JSONL recording. Blank lines are skipped; lines
// without a seq are numbered by position.
func LoadRecording(path string) (*Recording, error) {
	f, err := os.Open(path) //nolint:gosec // path is from the command line
	if err != nil {
		return nil, fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()
	return ReadRecording(f)
}

// ReadRecording parses a JSONL recording from r.
func ReadRecording(r io.Reader) (*Recording, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecordingLine)

	rec := &Recording{}
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var frame RecordedFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if frame.Seq == 0 {
			frame.Seq = uint64(len(rec.Frames) + 1)
		}
		rec.Frames = append(rec.Frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	return rec, nil
}

// Detector returns a detector answering with the recorded detections of the
// frame with the same sequence number.
func (r *Recording) Detector() landmark.Detector {
	bySeq := make(map[uint64][]landmark.Detection, len(r.Frames))
	for _, f := range r.Frames {
		bySeq[f.Seq] = f.Detections
	}
	return landmark.DetectorFunc(func(ctx context.Context, frame landmark.Frame) ([]landmark.Detection, error) {
		return bySeq[frame.Seq], nil
	})
}

// RecordingWriter appends frames to a JSONL recording. It is safe for concurrent use.
type RecordingWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewRecordingWriter writes a recording to w.
func NewRecordingWriter(w io.Writer) *RecordingWriter {
	return &RecordingWriter{enc: json.NewEncoder(w)}
}

// Write appends one frame with its detections.
func (w *RecordingWriter) Write(frame landmark.Frame, detections []landmark.Detection, luminance *float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line := RecordedFrame{
		Seq:        frame.Seq,
		Width:      frame.Width,
		Height:     frame.Height,
		Luminance:  luminance,
		CapturedAt: frame.CapturedAt,
		Detections: detections,
	}
	if line.Luminance == nil {
		line.Luminance = frame.Luminance
	}
	if err := w.enc.Encode(line); err != nil {
		return fmt.Errorf("writing recording: %w", err)
	}
	return nil
}
