package checkin

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/capture"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/facematch"
	"github.com/kozaktomas/face-checkin/internal/guidance"
)

// Outcome is the result of a confirmed snapshot.
type Outcome struct {
	Mode  Mode              `json:"mode"`
	Match *facematch.Result `json:"match,omitempty"`

	IdentityID string     `json:"identity_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	RecordID   int64      `json:"record_id,omitempty"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
	TemplateID string     `json:"template_id,omitempty"`

	// AlreadyRecorded is set when the identity checked in for the same event
	// within the dedup window; no new record is stored.
	AlreadyRecorded bool `json:"already_recorded,omitempty"`
	// Degenerate marks a probe whose reference points coincided.
	Degenerate  bool   `json:"degenerate,omitempty"`
	SubmitError string `json:"submit_error,omitempty"`
	Message     string `json:"message"`
}

// Recognized reports whether a check-in matched an identity.
func (o *Outcome) Recognized() bool {
	return o != nil && o.Match != nil && o.Match.Accepted
}

func (o *Outcome) clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	if o.Match != nil {
		m := *o.Match
		c.Match = &m
	}
	return &c
}

// submission is a write that has not been stored yet.
type submission struct {
	record   *database.AttendanceRecord
	template *database.EnrolledTemplate
}

func (s *Session) confirm(ctx context.Context) (*Outcome, error) {
	if state := s.machine.State(); state != capture.StateReviewing {
		return nil, fmt.Errorf("%w (state %s)", ErrNotReviewing, state)
	}
	snap, err := s.machine.Confirm()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReviewing, err)
	}
	logger := log.WithFields(log.Fields{"session": s.ID, "mode": s.Mode})

	probe, degenerate := s.svc.normalizer.Normalize(snap.Face.Landmarks)
	if degenerate {
		logger.Warn("Reference landmarks coincide, normalized without scaling")
	}
	out := &Outcome{Mode: s.Mode, Degenerate: degenerate}
	s.outcome = out

	if s.Mode == ModeEnroll {
		s.pending = &submission{template: &database.EnrolledTemplate{
			IdentityID: s.identity.ID,
			Name:       s.identity.Name,
			Vector:     probe.Float32(),
			Dim:        len(probe),
		}}
		out.IdentityID = s.identity.ID
		out.Name = s.identity.Name
		return s.submit(ctx)
	}

	result := s.svc.matcher.Match(probe, s.gallery)
	out.Match = &result
	if result.Skipped > 0 {
		logger.WithFields(log.Fields{
			"skipped":   result.Skipped,
			"probe_dim": len(probe),
		}).Warn("Skipped gallery templates of a different length")
	}
	if !result.Accepted {
		s.svc.rejected.Add(1)
		out.Message = s.message(guidance.MsgNotRecognized, nil)
		logger.WithFields(log.Fields{
			"score":    result.Score,
			"compared": result.Compared,
		}).Info("Face not recognized")
		s.send(EventOutcome, out.Message, out.clone())
		return out.clone(), nil
	}

	s.svc.accepted.Add(1)
	out.IdentityID = result.IdentityID
	out.Name = result.Name
	s.pending = &submission{record: &database.AttendanceRecord{
		IdentityID: result.IdentityID,
		Name:       result.Name,
		EventRef:   s.EventRef,
		Score:      result.Score,
		Metric:     result.Metric,
	}}
	return s.submit(ctx)
}

// submit stores the pending record or template. On failure the submission
// stays pending.
func (s *Session) submit(ctx context.Context) (*Outcome, error) {
	out := s.outcome
	logger := log.WithFields(log.Fields{"session": s.ID, "identity_id": out.IdentityID})
	data := map[string]any{"Name": out.Name}

	var err error
	switch {
	case s.pending.record != nil:
		err = s.submitRecord(ctx, out, logger)
	case s.pending.template != nil:
		err = s.submitTemplate(ctx, out, logger)
	}
	if err != nil {
		s.svc.submitFailures.Add(1)
		out.SubmitError = err.Error()
		out.Message = s.message(guidance.MsgRecordFailed, data)
		logger.WithError(err).Error("Failed to store submission")
		s.send(EventOutcome, out.Message, out.clone())
		return out.clone(), fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	s.pending = nil
	out.SubmitError = ""
	switch {
	case s.Mode == ModeEnroll:
		out.Message = s.message(guidance.MsgEnrolled, data)
	case out.AlreadyRecorded:
		out.Message = s.message(guidance.MsgAlreadyRecorded, data)
	default:
		out.Message = s.message(guidance.MsgCheckedIn, data)
	}
	s.send(EventOutcome, out.Message, out.clone())
	return out.clone(), nil
}

func (s *Session) submitRecord(ctx context.Context, out *Outcome, logger *log.Entry) error {
	pending := *s.pending.record
	if last := s.recentRecord(ctx, pending); last != nil {
		s.svc.duplicates.Add(1)
		out.AlreadyRecorded = true
		out.RecordID = last.ID
		recordedAt := last.RecordedAt
		out.RecordedAt = &recordedAt
		logger.WithField("record_id", last.ID).Info("Attendance already recorded")
		return nil
	}

	pending.RecordedAt = s.svc.opts.Now()
	rec, err := s.svc.opts.Recorder.RecordAttendance(ctx, pending)
	if err != nil {
		return fmt.Errorf("recording attendance: %w", err)
	}
	out.RecordID = rec.ID
	recordedAt := rec.RecordedAt
	out.RecordedAt = &recordedAt
	logger.WithFields(log.Fields{
		"record_id": rec.ID,
		"event_ref": rec.EventRef,
		"score":     rec.Score,
	}).Info("Attendance recorded")
	s.svc.publishEvent(*rec)
	return nil
}

// recentRecord returns the identity's record for the same event within the
// dedup window, or nil. Lookup failures do not block recording.
func (s *Session) recentRecord(ctx context.Context, rec database.AttendanceRecord) *database.AttendanceRecord {
	window := s.svc.opts.DedupWindow
	if window <= 0 {
		return nil
	}
	last, err := s.svc.opts.Recorder.LastAttendance(ctx, rec.IdentityID, rec.EventRef)
	if err != nil {
		log.WithError(err).WithField("identity_id", rec.IdentityID).Warn("Attendance dedup lookup failed")
		return nil
	}
	if last == nil || s.svc.opts.Now().Sub(last.RecordedAt) >= window {
		return nil
	}
	return last
}

func (s *Session) submitTemplate(ctx context.Context, out *Outcome, logger *log.Entry) error {
	tmpl, err := s.svc.opts.Gallery.Enroll(ctx, s.identity, *s.pending.template)
	if err != nil {
		return fmt.Errorf("enrolling template: %w", err)
	}
	s.svc.enrolled.Add(1)
	out.TemplateID = tmpl.ID
	logger.WithFields(log.Fields{
		"template_id": tmpl.ID,
		"dim":         tmpl.Dim,
	}).Info("Template enrolled")
	if s.svc.opts.OnEnrolled != nil {
		s.svc.opts.OnEnrolled(*tmpl)
	}
	return nil
}
