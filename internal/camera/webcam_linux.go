//go:build linux

package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blackjack/webcam"
	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// V4L2 fourcc codes.
const (
	pixFmtYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'
	pixFmtGrey  webcam.PixelFormat = 0x59455247 // 'GREY'
	pixFmtMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
)

// frameWaitTimeout is the V4L2 wait in seconds before re-checking for shutdown.
const frameWaitTimeout = 1

// Webcam is a V4L2 frame source.
type Webcam struct {
	device string
	width  uint32
	height uint32

	mu      sync.Mutex
	cam     *webcam.Webcam
	format  webcam.PixelFormat
	started bool
	closed  bool

	paused atomic.Bool
	seq    atomic.Uint64
	out    chan landmark.Frame
	done   chan struct{}
	exited chan struct{}

	errMu sync.Mutex
	err   error
}

// NewWebcam prepares a webcam source; the device is opened on the first Start.
func NewWebcam(device string, width, height int) *Webcam {
	return &Webcam{
		device: device,
		width:  uint32(max(width, 0)),  //nolint:gosec // clamped
		height: uint32(max(height, 0)), //nolint:gosec // clamped
		out:    make(chan landmark.Frame, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start opens the device on first use and resumes streaming.
func (w *Webcam) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.paused.Store(false)
	if w.started {
		return nil
	}

	cam, err := webcam.Open(w.device)
	if err != nil {
		return fmt.Errorf("can not open device %s: %w", w.device, err)
	}
	format, err := chooseFormat(cam)
	if err != nil {
		cam.Close()
		return err
	}
	format, width, height, err := cam.SetImageFormat(format, w.width, w.height)
	if err != nil {
		cam.Close()
		return fmt.Errorf("can not set image format: %w", err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return fmt.Errorf("can not start streaming: %w", err)
	}

	w.cam = cam
	w.format = format
	w.width = width
	w.height = height
	w.started = true
	log.WithFields(log.Fields{
		"device": w.device,
		"width":  width,
		"height": height,
		"format": fmt.Sprintf("%#x", uint32(format)),
	}).Info("Webcam streaming")

	go w.run()
	return nil
}

func chooseFormat(cam *webcam.Webcam) (webcam.PixelFormat, error) {
	supported := cam.GetSupportedFormats()
	for _, f := range []webcam.PixelFormat{pixFmtYUYV, pixFmtGrey, pixFmtMJPEG} {
		if _, ok := supported[f]; ok {
			return f, nil
		}
	}
	return 0, errors.New("device supports none of YUYV, GREY, MJPEG")
}

// Stop freezes the stream; frames read while stopped are dropped.
func (w *Webcam) Stop() {
	w.paused.Store(true)
}

// Frames returns the frame channel.
func (w *Webcam) Frames() <-chan landmark.Frame {
	return w.out
}

// Err returns the error that ended streaming, if any.
func (w *Webcam) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Close stops streaming and releases the device.
func (w *Webcam) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	close(w.done)
	w.mu.Unlock()

	if !started {
		close(w.out)
		return nil
	}
	<-w.exited
	if err := w.cam.Close(); err != nil {
		return fmt.Errorf("closing device: %w", err)
	}
	return nil
}

func (w *Webcam) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	w.err = err
}

func (w *Webcam) run() {
	defer close(w.exited)
	defer close(w.out)

	for {
		select {
		case <-w.done:
			return
		default:
		}

		err := w.cam.WaitForFrame(frameWaitTimeout)
		var timeout *webcam.Timeout
		switch {
		case err == nil:
		case errors.As(err, &timeout):
			continue
		default:
			w.setErr(fmt.Errorf("frame wait failed: %w", err))
			return
		}

		buf, err := w.cam.ReadFrame()
		if err != nil {
			w.setErr(fmt.Errorf("read frame failed: %w", err))
			return
		}
		if len(buf) == 0 || w.paused.Load() {
			continue
		}

		img, err := decodeFrame(w.format, buf, int(w.width), int(w.height))
		if err != nil {
			log.WithError(err).Debug("Dropping undecodable frame")
			continue
		}

		frame := landmark.Frame{
			Seq:        w.seq.Add(1),
			Image:      img,
			Width:      img.Bounds().Dx(),
			Height:     img.Bounds().Dy(),
			CapturedAt: time.Now(),
		}

		// Keep only the freshest frame when the consumer lags.
		select {
		case w.out <- frame:
		case <-w.done:
			return
		default:
			select {
			case <-w.out:
			default:
			}
			select {
			case w.out <- frame:
			default:
			}
		}
	}
}

// decodeFrame converts a raw V4L2 buffer to an image. YUYV maps onto a 4:2:2
// YCbCr image without color conversion.
func decodeFrame(format webcam.PixelFormat, buf []byte, width, height int) (image.Image, error) {
	switch format {
	case pixFmtYUYV:
		return DecodeYUYV(buf, width, height)
	case pixFmtGrey:
		if len(buf) < width*height {
			return nil, fmt.Errorf("short GREY frame: %d bytes", len(buf))
		}
		return &image.Gray{Pix: buf[:width*height], Stride: width, Rect: image.Rect(0, 0, width, height)}, nil
	case pixFmtMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("decoding MJPEG frame: %w", err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported pixel format %#x", uint32(format))
}
