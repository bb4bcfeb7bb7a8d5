package camera

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-checkin/internal/landmark"
)

// ReplaySource plays a Recording as a frame source.
type ReplaySource struct {
	frames   []RecordedFrame
	interval time.Duration
	loop     bool

	out    chan landmark.Frame
	resume chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	running bool
	started bool
	closed  bool
}

// ReplayOptions configures a ReplaySource.
type ReplayOptions struct {
	// Interval between frames; zero emits as fast as the consumer reads.
	Interval time.Duration
	// Loop restarts the recording when it ends instead of closing Frames.
	Loop bool
}

// NewReplaySource creates a paused replay of rec.
func NewReplaySource(rec *Recording, opts ReplayOptions) *ReplaySource {
	return &ReplaySource{
		frames:   rec.Frames,
		interval: opts.Interval,
		loop:     opts.Loop && len(rec.Frames) > 0,
		out:      make(chan landmark.Frame),
		resume:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start resumes emitting frames.
func (r *ReplaySource) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.running = true
	if !r.started {
		r.started = true
		go r.run()
	}
	select {
	case r.resume <- struct{}{}:
	default:
	}
	return nil
}

// Stop pauses the replay at the current position.
func (r *ReplaySource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// Frames returns the frame channel. It is closed when the recording ends
// (without Loop) or the source is closed.
func (r *ReplaySource) Frames() <-chan landmark.Frame {
	return r.out
}

// Err always returns nil; replays do not fail once loaded.
func (r *ReplaySource) Err() error {
	return nil
}

// Close stops the replay.
func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.running = false
	close(r.done)
	if !r.started {
		close(r.out)
	}
	return nil
}

func (r *ReplaySource) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *ReplaySource) run() {
	defer close(r.out)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	i := 0
	for {
		for !r.isRunning() {
			select {
			case <-r.resume:
			case <-r.done:
				return
			}
		}

		if i >= len(r.frames) {
			if !r.loop {
				return
			}
			i = 0
		}

		frame := r.frames[i].Frame()
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}
		select {
		case r.out <- frame:
			i++
		case <-r.done:
			return
		}

		if tick != nil {
			select {
			case <-tick:
			case <-r.done:
				return
			}
		}
	}
}
