// Package capture implements the capture state machine that turns a stream of
// quality reports into a single reviewed snapshot.
//
// A Machine is not safe for concurrent use. The owner serializes frames, ticks
// and operator commands, typically from one goroutine selecting over the frame
// source, TickC and a command channel.
package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/quality"
)

// State of a capture session.
type State string

// Capture states. Retake is transient: it is reported to observers and
// immediately followed by Validating.
const (
	StateIdle         State = "idle"
	StateValidating   State = "validating"
	StateCountingDown State = "counting_down"
	StateCaptured     State = "captured"
	StateReviewing    State = "reviewing"
	StateRetake       State = "retake"
	StateConfirmed    State = "confirmed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// ErrInvalidTransition is returned when a command is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// EventType classifies machine notifications.
type EventType string

// Event types.
const (
	EventState     EventType = "state"
	EventCountdown EventType = "countdown"
	EventCaptured  EventType = "captured"
)

// Event is emitted on every transition and countdown tick.
type Event struct {
	Type      EventType      `json:"type"`
	State     State          `json:"state"`
	From      State          `json:"from,omitempty"`
	Remaining int            `json:"remaining,omitempty"`
	Reason    quality.Reason `json:"reason,omitempty"`
	At        time.Time      `json:"at"`
}

// Snapshot is the captured frame with the landmarks that passed the gate.
type Snapshot struct {
	Frame      landmark.Frame
	Face       landmark.Detection
	Report     quality.Report
	CapturedAt time.Time
}

// Status is a read-only view of the machine.
type Status struct {
	State       State          `json:"state"`
	Remaining   int            `json:"remaining,omitempty"`
	Reason      quality.Reason `json:"reason,omitempty"`
	Captures    int            `json:"captures"`
	TimerActive bool           `json:"timer_active"`
	CameraOn    bool           `json:"camera_on"`
}

// Config configures a Machine. Zero values select the defaults.
type Config struct {
	CountdownTicks int
	TickInterval   time.Duration
	Camera         Camera
	NewTicker      TickerFactory
	OnEvent        func(Event)
	Now            func() time.Time
}

// Machine drives one capture session.
type Machine struct {
	ticks     int
	interval  time.Duration
	camera    Camera
	newTicker TickerFactory
	onEvent   func(Event)
	now       func() time.Time

	state     State
	remaining int
	ticker    Ticker
	cameraOn  bool
	lastFrame landmark.Frame
	last      *quality.Report
	snapshot  *Snapshot
	captures  int
}

// NewMachine creates a machine in the Idle state.
func NewMachine(cfg Config) *Machine {
	m := &Machine{
		ticks:     cfg.CountdownTicks,
		interval:  cfg.TickInterval,
		camera:    cfg.Camera,
		newTicker: cfg.NewTicker,
		onEvent:   cfg.OnEvent,
		now:       cfg.Now,
		state:     StateIdle,
	}
	if m.ticks <= 0 {
		m.ticks = constants.DefaultCountdownTicks
	}
	if m.interval <= 0 {
		m.interval = constants.DefaultTickInterval
	}
	if m.camera == nil {
		m.camera = NopCamera{}
	}
	if m.newTicker == nil {
		m.newTicker = NewTimeTicker
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Status returns a snapshot of the machine's bookkeeping.
func (m *Machine) Status() Status {
	st := Status{
		State:       m.state,
		Captures:    m.captures,
		TimerActive: m.ticker != nil,
		CameraOn:    m.cameraOn,
	}
	if m.state == StateCountingDown {
		st.Remaining = m.remaining
	}
	if m.last != nil {
		st.Reason = m.last.Reason
	}
	return st
}

// LastReport returns the most recent quality report, or nil before the first frame.
func (m *Machine) LastReport() *quality.Report {
	return m.last
}

// Snapshot returns the captured snapshot while reviewing or after confirmation.
func (m *Machine) Snapshot() *Snapshot {
	return m.snapshot
}

// TickC returns the countdown channel, or nil when no countdown runs.
// A nil channel blocks forever in a select, which disables the case.
func (m *Machine) TickC() <-chan time.Time {
	if m.ticker == nil {
		return nil
	}
	return m.ticker.C()
}

// Start activates the camera and begins validating frames.
func (m *Machine) Start() error {
	if m.state != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, m.state)
	}
	if err := m.startCamera(); err != nil {
		return err
	}
	m.transition(StateValidating, "")
	return nil
}

// OnReport feeds the gate's verdict on the current frame. Reports arriving
// outside Validating and CountingDown are ignored.
func (m *Machine) OnReport(frame landmark.Frame, report quality.Report) State {
	switch m.state {
	case StateValidating:
		m.remember(frame, report)
		if report.Valid {
			m.startCountdown()
		}
	case StateCountingDown:
		m.remember(frame, report)
		if !report.Valid {
			m.stopCountdown()
			m.transition(StateValidating, report.Reason)
		}
	}
	return m.state
}

// Tick advances the countdown by one step. It returns true when the tick
// completed the countdown and a snapshot was taken. Ticks outside
// CountingDown are stale and ignored.
func (m *Machine) Tick() bool {
	if m.state != StateCountingDown {
		return false
	}
	// OnReport leaves CountingDown on the first invalid frame, so the
	// current frame is valid here.
	m.remaining--
	if m.remaining > 0 {
		m.emit(Event{Type: EventCountdown, State: m.state, Remaining: m.remaining})
		return false
	}

	m.capture()
	return true
}

// Retake discards the snapshot, restarts the camera and returns to Validating.
func (m *Machine) Retake() error {
	if m.state != StateReviewing {
		return fmt.Errorf("%w: retake from %s", ErrInvalidTransition, m.state)
	}
	if err := m.startCamera(); err != nil {
		return err
	}
	m.snapshot = nil
	m.last = nil
	m.transition(StateRetake, "")
	m.transition(StateValidating, "")
	return nil
}

// Confirm accepts the reviewed snapshot and ends the session.
func (m *Machine) Confirm() (*Snapshot, error) {
	if m.state != StateReviewing {
		return nil, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, m.state)
	}
	m.transition(StateConfirmed, "")
	return m.snapshot, nil
}

// Cancel stops the camera, cancels any countdown and discards capture state.
// It is safe to call from any state and more than once; a confirmed session
// keeps its snapshot.
func (m *Machine) Cancel() {
	m.stopCountdown()
	m.stopCamera()
	if m.state.Terminal() {
		return
	}
	m.snapshot = nil
	m.last = nil
	m.transition(StateCancelled, "")
}

func (m *Machine) remember(frame landmark.Frame, report quality.Report) {
	m.lastFrame = frame
	m.last = &report
}

func (m *Machine) startCountdown() {
	// Idempotent start: never run two timers.
	m.stopCountdown()
	m.remaining = m.ticks
	m.ticker = m.newTicker(m.interval)
	m.transition(StateCountingDown, "")
	m.emit(Event{Type: EventCountdown, State: m.state, Remaining: m.remaining})
}

func (m *Machine) stopCountdown() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	m.remaining = 0
}

func (m *Machine) capture() {
	m.stopCountdown()
	snap := &Snapshot{
		Frame:      m.lastFrame,
		Report:     *m.last,
		CapturedAt: m.now(),
	}
	if m.last.Face != nil {
		snap.Face = *m.last.Face
	}
	m.snapshot = snap
	m.captures++

	m.transition(StateCaptured, "")
	m.emit(Event{Type: EventCaptured, State: m.state})
	m.stopCamera()
	m.transition(StateReviewing, "")
}

func (m *Machine) startCamera() error {
	if m.cameraOn {
		return nil
	}
	if err := m.camera.Start(); err != nil {
		return fmt.Errorf("starting camera: %w", err)
	}
	m.cameraOn = true
	return nil
}

func (m *Machine) stopCamera() {
	if !m.cameraOn {
		return
	}
	m.camera.Stop()
	m.cameraOn = false
}

func (m *Machine) transition(to State, reason quality.Reason) {
	from := m.state
	m.state = to
	m.emit(Event{Type: EventState, State: to, From: from, Reason: reason})
}

func (m *Machine) emit(ev Event) {
	if m.onEvent == nil {
		return
	}
	ev.At = m.now()
	m.onEvent(ev)
}
