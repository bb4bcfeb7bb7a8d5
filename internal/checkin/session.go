package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/camera"
	"github.com/kozaktomas/face-checkin/internal/capture"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/facematch"
	"github.com/kozaktomas/face-checkin/internal/guidance"
	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/quality"
)

// ErrSourceEnded is returned by Run when an attached source stops delivering
// frames before the session finished.
var ErrSourceEnded = errors.New("frame source ended")

// Status is a read-only view of a session.
type Status struct {
	ID       string `json:"id"`
	Mode     Mode   `json:"mode"`
	EventRef string `json:"event_ref,omitempty"`
	capture.Status
	Guidance      string          `json:"guidance"`
	Report        *quality.Report `json:"report,omitempty"`
	Outcome       *Outcome        `json:"outcome,omitempty"`
	SubmitPending bool            `json:"submit_pending"`
	LastActive    time.Time       `json:"last_active"`
}

// input is one frame with its detections.
type input struct {
	frame      landmark.Frame
	detections []landmark.Detection
	eof        error
}

// sourceCamera lets the machine start and freeze an attached source.
type sourceCamera struct {
	src camera.Source
}

func (c *sourceCamera) Start() error {
	if c.src == nil {
		return nil
	}
	return c.src.Start()
}

func (c *sourceCamera) Stop() {
	if c.src != nil {
		c.src.Stop()
	}
}

// Session is one capture flow. All state changes happen on the goroutine
// running Run; the exported methods send commands to it.
type Session struct {
	ID        string
	Mode      Mode
	EventRef  string
	CreatedAt time.Time

	broadcaster

	svc      *Service
	opts     SessionOptions
	gate     *quality.Gate
	gallery  []facematch.Template
	identity database.Identity
	machine  *capture.Machine
	camera   sourceCamera
	detector landmark.Detector

	commands chan func()
	inputs   chan input
	done     chan struct{}
	running  atomic.Bool

	// Owned by the run loop.
	outcome   *Outcome
	pending   *submission
	cancelled bool

	mu     sync.RWMutex
	status Status
}

// Attach connects a frame source and a detector. Frames are detected outside
// the run loop and evaluated in arrival order. Attach must precede Run.
func (s *Session) Attach(source camera.Source, detector landmark.Detector) error {
	if source == nil || detector == nil {
		return errors.New("source and detector are required")
	}
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	s.camera.src = source
	s.detector = detector
	return nil
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Status returns the state published after the last processed input.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run starts the camera and processes frames, countdown ticks and commands
// until the session is cancelled, confirmed with nothing left to submit, or
// ctx ends. It may be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		s.publish()
		s.closeListeners()
		close(s.done)
	}()

	if err := s.machine.Start(); err != nil {
		s.machine.Cancel()
		return err
	}
	s.publish()

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	if s.camera.src != nil {
		go s.pump(pumpCtx)
	}

	for !s.finished() {
		select {
		case <-ctx.Done():
			s.machine.Cancel()
			return ctx.Err()
		case cmd := <-s.commands:
			cmd()
		case in := <-s.inputs:
			if in.eof != nil {
				s.machine.Cancel()
				return in.eof
			}
			s.evaluate(in.frame, in.detections)
		case <-s.machine.TickC():
			if s.machine.Tick() {
				s.svc.captures.Add(1)
				log.WithField("session", s.ID).Info("Snapshot captured")
			}
		}
		s.publish()
	}
	s.machine.Cancel()
	return nil
}

func (s *Session) finished() bool {
	switch s.machine.State() {
	case capture.StateCancelled:
		return true
	case capture.StateConfirmed:
		return s.cancelled || s.pending == nil
	}
	return false
}

// pump detects faces on source frames and hands them to the run loop.
func (s *Session) pump(ctx context.Context) {
	src := s.camera.src
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-src.Frames():
			if !ok {
				err := src.Err()
				if err == nil {
					err = ErrSourceEnded
				}
				select {
				case s.inputs <- input{eof: err}:
				case <-ctx.Done():
				}
				return
			}
			detections, err := s.detector.Detect(ctx, frame)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).WithField("session", s.ID).Warn("Landmark detection failed, skipping frame")
				continue
			}
			select {
			case s.inputs <- input{frame: frame, detections: detections}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// do runs fn on the run loop and waits for its result. Commands sent before
// Run starts wait for it, bounded by ctx.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.commands <- func() { errc <- fn() }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitFrame evaluates a frame with detections computed by the caller.
func (s *Session) SubmitFrame(ctx context.Context, frame landmark.Frame, detections []landmark.Detection) (quality.Report, error) {
	var report quality.Report
	err := s.do(ctx, func() error {
		report = s.evaluate(frame, detections)
		return nil
	})
	return report, err
}

// Retake discards the snapshot under review and resumes validation.
func (s *Session) Retake(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.machine.State() != capture.StateReviewing {
			return fmt.Errorf("%w (state %s)", ErrNotReviewing, s.machine.State())
		}
		return s.machine.Retake()
	})
}

// Confirm accepts the snapshot under review. Check-in sessions match it and
// record attendance for an accepted identity; enrollment sessions store it as
// a template. A storage failure returns the outcome together with an error
// wrapping ErrSubmitFailed; the submission can then be retried with RetryRecord.
func (s *Session) Confirm(ctx context.Context) (*Outcome, error) {
	var out *Outcome
	err := s.do(ctx, func() error {
		var err error
		out, err = s.confirm(ctx)
		return err
	})
	return out, err
}

// RetryRecord retries a failed submission.
func (s *Session) RetryRecord(ctx context.Context) (*Outcome, error) {
	var out *Outcome
	err := s.do(ctx, func() error {
		if s.pending == nil {
			return ErrNothingToRecord
		}
		var err error
		out, err = s.submit(ctx)
		return err
	})
	return out, err
}

// Cancel stops the session. It is idempotent and safe after Run returned.
// Cancelling a session that never ran prevents it from running.
func (s *Session) Cancel(ctx context.Context) error {
	if s.running.CompareAndSwap(false, true) {
		s.cancelled = true
		s.machine.Cancel()
		s.publish()
		s.closeListeners()
		close(s.done)
		return nil
	}
	err := s.do(ctx, func() error {
		s.cancelled = true
		s.machine.Cancel()
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

func (s *Session) evaluate(frame landmark.Frame, detections []landmark.Detection) quality.Report {
	report := s.gate.Evaluate(frame, detections)
	if report.Violation != quality.ViolationNone && report.Face != nil {
		s.svc.violations.Add(1)
		log.WithFields(log.Fields{
			"session":   s.ID,
			"violation": report.Violation,
			"points":    len(report.Face.Landmarks),
		}).Warn("Landmark input contract violation")
	}
	s.machine.OnReport(frame, report)
	s.send(EventReport, s.reasonMessage(report), report)
	return report
}

func (s *Session) onMachineEvent(ev capture.Event) {
	var msg string
	switch ev.Type {
	case capture.EventCountdown:
		msg = s.message(guidance.MsgHoldStill, map[string]any{"Remaining": ev.Remaining})
	case capture.EventCaptured:
		msg = s.message(guidance.MsgCaptured, nil)
	case capture.EventState:
		if ev.State == capture.StateValidating && ev.Reason != quality.ReasonNone {
			msg = s.message(guidance.ReasonID(ev.Reason), nil)
		}
	}
	s.send(string(ev.Type), msg, ev)
}

// publish refreshes the status returned by Status.
func (s *Session) publish() {
	st := Status{
		ID:            s.ID,
		Mode:          s.Mode,
		EventRef:      s.EventRef,
		Status:        s.machine.Status(),
		Report:        s.machine.LastReport(),
		Outcome:       s.outcome.clone(),
		SubmitPending: s.pending != nil,
		LastActive:    s.svc.opts.Now(),
	}
	st.Guidance = s.guidanceFor(st)

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) guidanceFor(st Status) string {
	switch st.State {
	case capture.StateIdle:
		return s.message(guidance.MsgLookAtCamera, nil)
	case capture.StateValidating:
		if st.Report == nil {
			return s.message(guidance.MsgLookAtCamera, nil)
		}
		return s.reasonMessage(*st.Report)
	case capture.StateCountingDown:
		return s.message(guidance.MsgHoldStill, map[string]any{"Remaining": st.Remaining})
	case capture.StateReviewing:
		return s.message(guidance.MsgCaptured, nil)
	case capture.StateConfirmed:
		if st.Outcome != nil {
			return st.Outcome.Message
		}
	}
	return ""
}

func (s *Session) reasonMessage(r quality.Report) string {
	if r.Valid {
		return s.message(guidance.MsgHoldStill, map[string]any{"Remaining": s.machine.Status().Remaining})
	}
	return s.svc.opts.Guidance.Reason(r.Reason, s.opts.Languages...)
}

func (s *Session) message(id string, data map[string]any) string {
	return s.svc.opts.Guidance.Message(id, data, s.opts.Languages...)
}
