package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/landmark/landmarktest"
	"github.com/kozaktomas/face-checkin/internal/quality"
)

type fakeTicker struct {
	c       chan time.Time
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.stopped = true }

type fakeCamera struct {
	starts   int
	stops    int
	running  bool
	startErr error
}

func (f *fakeCamera) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeCamera) Stop() {
	f.stops++
	f.running = false
}

type harness struct {
	m       *Machine
	camera  *fakeCamera
	tickers []*fakeTicker
	events  []Event
}

func newHarness(t *testing.T, ticks int) *harness {
	t.Helper()
	h := &harness{camera: &fakeCamera{}}
	h.m = NewMachine(Config{
		CountdownTicks: ticks,
		TickInterval:   time.Second,
		Camera:         h.camera,
		NewTicker: func(d time.Duration) Ticker {
			ft := &fakeTicker{c: make(chan time.Time)}
			h.tickers = append(h.tickers, ft)
			return ft
		},
		OnEvent: func(ev Event) { h.events = append(h.events, ev) },
	})
	return h
}

var gate = quality.NewGate(quality.DefaultConfig())

func validFrame() (landmark.Frame, quality.Report) {
	frame := landmarktest.Frame(128)
	return frame, gate.Evaluate(frame, []landmark.Detection{landmarktest.Frontal()})
}

func emptyFrame() (landmark.Frame, quality.Report) {
	frame := landmarktest.Frame(128)
	return frame, gate.Evaluate(frame, nil)
}

func (h *harness) valid() State   { return h.m.OnReport(validFrame()) }
func (h *harness) invalid() State { return h.m.OnReport(emptyFrame()) }

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func (h *harness) assertState(t *testing.T, want State) {
	t.Helper()
	if got := h.m.State(); got != want {
		t.Fatalf("expected state %s, got %s", want, got)
	}
}

func (h *harness) assertNoLiveTimer(t *testing.T) {
	t.Helper()
	if h.m.Status().TimerActive || h.m.TickC() != nil {
		t.Error("expected no active countdown timer")
	}
	for i, ft := range h.tickers {
		if !ft.stopped {
			t.Errorf("ticker %d was never stopped", i)
		}
	}
}

func TestMachine_Start(t *testing.T) {
	h := newHarness(t, 3)
	h.assertState(t, StateIdle)

	h.start(t)
	h.assertState(t, StateValidating)
	if !h.camera.running {
		t.Error("expected camera to be running")
	}

	if err := h.m.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second start, got %v", err)
	}
}

func TestMachine_StartCameraFailure(t *testing.T) {
	h := newHarness(t, 3)
	h.camera.startErr = errors.New("device busy")

	if err := h.m.Start(); err == nil {
		t.Fatal("expected camera error")
	}
	h.assertState(t, StateIdle)
}

func TestMachine_NoFaceHoldsValidating(t *testing.T) {
	h := newHarness(t, 3)
	h.start(t)

	for range 5 {
		h.invalid()
		h.m.Tick()
	}

	h.assertState(t, StateValidating)
	if got := h.m.Status().Reason; got != quality.ReasonNoFace {
		t.Errorf("expected latest reason %q, got %q", quality.ReasonNoFace, got)
	}
	if len(h.tickers) != 0 {
		t.Errorf("expected no countdown timer, got %d", len(h.tickers))
	}
}

func TestMachine_ThreeValidTicksCaptureOnce(t *testing.T) {
	h := newHarness(t, 3)
	h.start(t)

	if got := h.valid(); got != StateCountingDown {
		t.Fatalf("expected counting down after a valid frame, got %s", got)
	}
	captured := 0
	for i := range 3 {
		if i > 0 {
			h.valid()
		}
		if h.m.Tick() {
			captured++
		}
	}
	if captured != 1 {
		t.Fatalf("expected exactly one capture, got %d", captured)
	}
	h.assertState(t, StateReviewing)
	h.assertNoLiveTimer(t)
	if h.camera.running {
		t.Error("expected camera frozen while reviewing")
	}

	snap := h.m.Snapshot()
	if snap == nil || len(snap.Face.Landmarks) != landmark.FaceMeshPoints {
		t.Fatalf("expected snapshot with landmarks, got %+v", snap)
	}

	// Nothing further is captured until a new session starts.
	for range 5 {
		h.valid()
		if h.m.Tick() {
			captured++
		}
	}
	if captured != 1 || h.m.Status().Captures != 1 {
		t.Errorf("expected a single capture, got %d", captured)
	}

	var path []State
	for _, ev := range h.events {
		if ev.Type == EventState {
			path = append(path, ev.State)
		}
	}
	want := []State{StateValidating, StateCountingDown, StateCaptured, StateReviewing}
	if len(path) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, path)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], path[i])
		}
	}
}

func TestMachine_InterruptedCountdownRestartsFromScratch(t *testing.T) {
	h := newHarness(t, 3)
	h.start(t)

	h.valid()
	h.m.Tick()
	h.valid()
	h.m.Tick()
	if got := h.m.Status().Remaining; got != 1 {
		t.Fatalf("expected 1 tick remaining after tick 2 of 3, got %d", got)
	}

	if got := h.invalid(); got != StateValidating {
		t.Fatalf("expected validating after an invalid frame, got %s", got)
	}
	h.assertNoLiveTimer(t)

	// A stale tick after the interruption does nothing.
	if h.m.Tick() {
		t.Fatal("stale tick must not capture")
	}

	h.valid()
	if got := h.m.Status().Remaining; got != 3 {
		t.Fatalf("expected a full fresh countdown, got %d remaining", got)
	}
	if h.m.Tick() || h.m.Tick() {
		t.Fatal("capture before a full countdown")
	}
	if !h.m.Tick() {
		t.Fatal("expected capture on the third tick of the fresh countdown")
	}
	if len(h.tickers) != 2 {
		t.Errorf("expected two countdown timers, got %d", len(h.tickers))
	}
}

func TestMachine_ValidFramesDoNotRestartCountdown(t *testing.T) {
	h := newHarness(t, 3)
	h.start(t)

	h.valid()
	h.m.Tick()
	h.valid()
	h.valid()
	if got := h.m.Status().Remaining; got != 2 {
		t.Errorf("expected countdown to continue at 2, got %d", got)
	}
	if len(h.tickers) != 1 {
		t.Errorf("expected a single timer, got %d", len(h.tickers))
	}
}

func TestMachine_CancelFromEveryState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
	}{
		{"idle", func(t *testing.T, h *harness) {}},
		{"validating", func(t *testing.T, h *harness) { h.start(t) }},
		{"counting down", func(t *testing.T, h *harness) {
			h.start(t)
			h.valid()
			h.m.Tick()
		}},
		{"reviewing", func(t *testing.T, h *harness) {
			h.start(t)
			h.valid()
			h.m.Tick()
			h.m.Tick()
			h.m.Tick()
		}},
		{"after retake", func(t *testing.T, h *harness) {
			h.start(t)
			h.valid()
			h.m.Tick()
			h.m.Tick()
			h.m.Tick()
			if err := h.m.Retake(); err != nil {
				t.Fatal(err)
			}
			h.valid()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3)
			tt.setup(t, h)

			h.m.Cancel()
			h.assertState(t, StateCancelled)
			h.assertNoLiveTimer(t)
			if h.camera.running {
				t.Error("expected camera stopped")
			}
			if h.m.Snapshot() != nil || h.m.LastReport() != nil {
				t.Error("expected capture state discarded")
			}

			stops := h.camera.stops
			h.m.Cancel()
			h.m.Cancel()
			h.assertState(t, StateCancelled)
			if h.camera.stops != stops {
				t.Errorf("repeated cancel stopped the camera again (%d -> %d)", stops, h.camera.stops)
			}
			if err := h.m.Start(); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected cancelled session to refuse start, got %v", err)
			}
		})
	}
}

func reviewing(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, 2)
	h.start(t)
	h.valid()
	h.m.Tick()
	if !h.m.Tick() {
		t.Fatal("expected capture")
	}
	h.assertState(t, StateReviewing)
	return h
}

func TestMachine_Retake(t *testing.T) {
	h := reviewing(t)

	if err := h.m.Retake(); err != nil {
		t.Fatalf("retake: %v", err)
	}
	h.assertState(t, StateValidating)
	if h.m.Snapshot() != nil {
		t.Error("expected snapshot discarded")
	}
	if !h.camera.running || h.camera.starts != 2 {
		t.Errorf("expected camera restarted, starts=%d", h.camera.starts)
	}

	sawRetake := false
	for _, ev := range h.events {
		if ev.Type == EventState && ev.State == StateRetake {
			sawRetake = true
		}
	}
	if !sawRetake {
		t.Error("expected a retake transition event")
	}

	if err := h.m.Retake(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition outside reviewing, got %v", err)
	}
}

func TestMachine_RetakeCameraFailureKeepsSnapshot(t *testing.T) {
	h := reviewing(t)
	h.camera.startErr = errors.New("unplugged")

	if err := h.m.Retake(); err == nil {
		t.Fatal("expected camera error")
	}
	h.assertState(t, StateReviewing)
	if h.m.Snapshot() == nil {
		t.Error("expected snapshot kept")
	}
}

func TestMachine_Confirm(t *testing.T) {
	h := newHarness(t, 3)
	h.start(t)
	if _, err := h.m.Confirm(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before capture, got %v", err)
	}

	h = reviewing(t)
	snap, err := h.m.Confirm()
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if snap == nil || !snap.Report.Valid {
		t.Fatalf("expected valid snapshot, got %+v", snap)
	}
	h.assertState(t, StateConfirmed)

	if _, err := h.m.Confirm(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected confirm to be terminal, got %v", err)
	}

	h.m.Cancel()
	h.assertState(t, StateConfirmed)
	if h.m.Snapshot() == nil {
		t.Error("cancel after confirm must keep the snapshot")
	}
}

func TestMachine_CountdownEvents(t *testing.T) {
	h := newHarness(t, 3)
	h.start(t)
	h.valid()
	h.m.Tick()
	h.m.Tick()

	var remaining []int
	for _, ev := range h.events {
		if ev.Type == EventCountdown {
			remaining = append(remaining, ev.Remaining)
		}
	}
	want := []int{3, 2, 1}
	if len(remaining) != len(want) {
		t.Fatalf("expected countdown %v, got %v", want, remaining)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Errorf("countdown event %d: expected %d, got %d", i, want[i], remaining[i])
		}
	}
}
