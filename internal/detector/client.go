// Package detector talks to an external face landmark service and turns its
// answers into landmark detections.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/landmark"
)

const (
	defaultDetectorURL = "http://localhost:8000"
	detectEndpoint     = "/detect/landmarks"
	jpegQuality        = 90
)

// HTTPDetector computes landmarks using the landmark server
type HTTPDetector struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDetector creates a new landmark server client
func NewHTTPDetector(baseURL string, timeout time.Duration) *HTTPDetector {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	if timeout <= 0 {
		timeout = constants.DefaultDetectorTimeout
	}
	return &HTTPDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// faceResult is one face in the landmark server response
type faceResult struct {
	Landmarks [][]float64 `json:"landmarks"` // [x, y] or [x, y, z]
	BBox      []float64   `json:"bbox"`      // [x1, y1, x2, y2]
	DetScore  float64     `json:"det_score"`
}

// landmarkResponse represents the response from the landmark endpoint.
// Coordinates are in pixels unless Normalized is set.
type landmarkResponse struct {
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Normalized bool         `json:"normalized"`
	FacesCount int          `json:"faces_count"`
	Faces      []faceResult `json:"faces"`
	Model      string       `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (d *HTTPDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte, width, height int) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.WriteField("width", strconv.Itoa(width)); err != nil {
		return nil, fmt.Errorf("failed to write width: %w", err)
	}
	if err := writer.WriteField("height", strconv.Itoa(height)); err != nil {
		return nil, fmt.Errorf("failed to write height: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect encodes the frame as JPEG, sends it to the landmark server and
// returns deduplicated detections in normalized coordinates.
func (d *HTTPDetector) Detect(ctx context.Context, frame landmark.Frame) ([]landmark.Detection, error) {
	if frame.Image == nil {
		return nil, errors.New("frame has no pixels")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	width, height := frame.Width, frame.Height
	if width <= 0 || height <= 0 {
		width, height = imageSize(frame.Image)
	}

	body, err := d.postMultipartImage(ctx, detectEndpoint, buf.Bytes(), width, height)
	if err != nil {
		return nil, err
	}

	var resp landmarkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Width > 0 && resp.Height > 0 {
		width, height = resp.Width, resp.Height
	}

	detections := make([]landmark.Detection, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		detections = append(detections, toDetection(f, width, height, resp.Normalized))
	}
	return Deduplicate(detections, constants.DetectorDuplicateIoU), nil
}

func toDetection(f faceResult, width, height int, normalized bool) landmark.Detection {
	sx, sy := 1.0, 1.0
	if !normalized && width > 0 && height > 0 {
		sx, sy = 1/float64(width), 1/float64(height)
	}

	set := make(landmark.Set, len(f.Landmarks))
	for i, p := range f.Landmarks {
		var pt landmark.Point
		if len(p) > 0 {
			pt.X = p[0] * sx
		}
		if len(p) > 1 {
			pt.Y = p[1] * sy
		}
		if len(p) > 2 {
			// Depth shares the horizontal scale.
			pt.Z = p[2] * sx
		}
		set[i] = pt
	}

	det := landmark.Detection{Landmarks: set, Score: f.DetScore}
	if normalized {
		if len(f.BBox) == 4 {
			det.Box = landmark.BoundingBox{Left: f.BBox[0], Top: f.BBox[1], Width: f.BBox[2] - f.BBox[0], Height: f.BBox[3] - f.BBox[1]}
		}
	} else {
		det.Box = landmark.BoxFromPixels(f.BBox, width, height)
	}
	if det.Box.IsZero() && len(set) > 0 {
		det.Box = set.Bounds()
	}
	return det
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	return "application/octet-stream"
}

// Compile-time interface check.
var _ landmark.Detector = (*HTTPDetector)(nil)

// imageSize returns the pixel size of an image.
func imageSize(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
