// Package checkin runs capture sessions: it feeds frames through the quality
// gate into the capture machine and, once the operator confirms the snapshot,
// either matches it against the gallery and records attendance or enrolls it
// as a new template.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/capture"
	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/facematch"
	"github.com/kozaktomas/face-checkin/internal/guidance"
	"github.com/kozaktomas/face-checkin/internal/notify"
	"github.com/kozaktomas/face-checkin/internal/quality"
)

// Mode selects what a confirmed snapshot is used for.
type Mode string

// Session modes.
const (
	ModeCheckin Mode = "checkin"
	ModeEnroll  Mode = "enroll"
)

// ParseMode parses a mode name; empty means check-in.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeCheckin:
		return ModeCheckin, nil
	case ModeEnroll:
		return ModeEnroll, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q (expected checkin or enroll)", ErrInvalidOptions, s)
}

var (
	// ErrInvalidOptions is returned for session options that cannot start a session.
	ErrInvalidOptions = errors.New("invalid session options")
	// ErrSessionClosed is returned for commands sent to a finished session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotReviewing is returned when retake or confirm is sent without a capture under review.
	ErrNotReviewing = errors.New("no capture under review")
	// ErrNothingToRecord is returned by RetryRecord when no submission is pending.
	ErrNothingToRecord = errors.New("no pending submission")
	// ErrSubmitFailed wraps attendance or enrollment storage failures. The
	// submission stays pending and can be retried.
	ErrSubmitFailed = errors.New("submission failed")
	// ErrAlreadyRunning is returned when Run or Attach is called on a running session.
	ErrAlreadyRunning = errors.New("session already running")
)

const publishTimeout = 5 * time.Second

// Options wires a Service.
type Options struct {
	Thresholds config.Thresholds
	Gallery    database.GalleryWriter
	Recorder   database.AttendanceRecorder
	Publisher  notify.Publisher
	Guidance   *guidance.Localizer

	// Index optionally prefilters large galleries.
	Index facematch.CandidateIndex
	// OnEnrolled is called after a template is stored, e.g. to add it to the index.
	OnEnrolled func(database.EnrolledTemplate)

	// DedupWindow suppresses repeated check-ins of one identity for one event; 0 disables it.
	DedupWindow time.Duration

	NewTicker capture.TickerFactory
	Now       func() time.Time
}

// Service creates capture sessions sharing one gate, matcher and set of stores.
type Service struct {
	opts       Options
	gate       *quality.Gate
	matcher    *facematch.Matcher
	normalizer *facematch.Normalizer
	matchStats *facematch.Stats

	sessions       atomic.Int64
	captures       atomic.Int64
	accepted       atomic.Int64
	rejected       atomic.Int64
	enrolled       atomic.Int64
	duplicates     atomic.Int64
	submitFailures atomic.Int64
	violations     atomic.Int64

	publishing sync.WaitGroup
}

// StatsSnapshot holds the service counters.
type StatsSnapshot struct {
	Sessions       int64 `json:"sessions"`
	Captures       int64 `json:"captures"`
	Accepted       int64 `json:"accepted"`
	Rejected       int64 `json:"rejected"`
	Enrolled       int64 `json:"enrolled"`
	Duplicates     int64 `json:"duplicates"`
	RecordFailures int64 `json:"record_failures"`
	Violations     int64 `json:"contract_violations"`
	facematch.StatsSnapshot
}

// NewService validates the thresholds and builds the shared pipeline.
func NewService(opts Options) (*Service, error) {
	if opts.Gallery == nil {
		return nil, errors.New("gallery is required")
	}
	if opts.Recorder == nil {
		return nil, errors.New("attendance recorder is required")
	}
	if opts.Thresholds.Match.Metric == "" {
		opts.Thresholds = config.DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	metric, err := facematch.MetricByName(opts.Thresholds.Match.Metric)
	if err != nil {
		return nil, err
	}
	if opts.Publisher == nil {
		opts.Publisher = notify.Nop{}
	}
	if opts.Guidance == nil {
		if opts.Guidance, err = guidance.New("en"); err != nil {
			return nil, fmt.Errorf("loading guidance: %w", err)
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	stats := &facematch.Stats{}
	match := opts.Thresholds.Match
	threshold := match.Threshold()
	return &Service{
		opts: opts,
		gate: quality.NewGate(opts.Thresholds.Quality),
		matcher: facematch.NewMatcher(facematch.Options{
			Metric:             metric,
			Threshold:          &threshold,
			ParallelMinGallery: match.ParallelMinGallery,
			Index:              opts.Index,
			IndexMinGallery:    match.IndexMinGallery,
			IndexCandidates:    match.IndexCandidates,
		}, stats),
		normalizer: facematch.NewNormalizer(opts.Thresholds.Quality.Layout, stats),
		matchStats: stats,
	}, nil
}

// Thresholds returns the thresholds in effect.
func (s *Service) Thresholds() config.Thresholds {
	return s.opts.Thresholds
}

// Guidance returns the localizer used for operator messages.
func (s *Service) Guidance() *guidance.Localizer {
	return s.opts.Guidance
}

// Stats returns the current counters.
func (s *Service) Stats() StatsSnapshot {
	return StatsSnapshot{
		Sessions:       s.sessions.Load(),
		Captures:       s.captures.Load(),
		Accepted:       s.accepted.Load(),
		Rejected:       s.rejected.Load(),
		Enrolled:       s.enrolled.Load(),
		Duplicates:     s.duplicates.Load(),
		RecordFailures: s.submitFailures.Load(),
		Violations:     s.violations.Load(),
		StatsSnapshot:  s.matchStats.Snapshot(),
	}
}

// Close waits for in-flight event publishing.
func (s *Service) Close() {
	s.publishing.Wait()
}

// SessionOptions configures one capture session.
type SessionOptions struct {
	Mode     Mode
	EventRef string

	// Enrollment target. An empty IdentityID creates a new identity; a known
	// IdentityID without Name adds a template to that identity.
	IdentityID string
	Name       string

	// RequireOpenEyes overrides the configured eye-state check when set.
	RequireOpenEyes *bool

	// Languages for guidance messages, as tags or Accept-Language values.
	Languages []string
}

// NewSession prepares a session. Check-in sessions fetch the gallery here,
// once per session.
func (s *Service) NewSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode

	sess := &Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		EventRef:  opts.EventRef,
		CreatedAt: s.opts.Now(),
		svc:       s,
		opts:      opts,
		gate:      s.gate,
		commands:  make(chan func()),
		inputs:    make(chan input),
		done:      make(chan struct{}),
	}
	if opts.RequireOpenEyes != nil {
		sess.gate = s.gate.WithOpenEyes(*opts.RequireOpenEyes)
	}

	switch mode {
	case ModeEnroll:
		identity, err := s.resolveIdentity(ctx, opts)
		if err != nil {
			return nil, err
		}
		sess.identity = identity
	case ModeCheckin:
		rows, err := s.opts.Gallery.FetchTemplates(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching gallery: %w", err)
		}
		sess.gallery = database.Templates(rows)
	}

	sess.machine = capture.NewMachine(capture.Config{
		CountdownTicks: s.opts.Thresholds.Capture.CountdownTicks,
		TickInterval:   s.opts.Thresholds.Capture.TickInterval,
		Camera:         &sess.camera,
		NewTicker:      s.opts.NewTicker,
		OnEvent:        sess.onMachineEvent,
		Now:            s.opts.Now,
	})
	sess.publish()

	s.sessions.Add(1)
	log.WithFields(log.Fields{
		"session":   sess.ID,
		"mode":      mode,
		"event_ref": opts.EventRef,
		"gallery":   len(sess.gallery),
	}).Info("Capture session created")
	return sess, nil
}

func (s *Service) resolveIdentity(ctx context.Context, opts SessionOptions) (database.Identity, error) {
	if opts.IdentityID != "" {
		existing, err := s.opts.Gallery.GetIdentity(ctx, opts.IdentityID)
		switch {
		case err == nil:
			if opts.Name == "" {
				return *existing, nil
			}
		case !errors.Is(err, database.ErrIdentityNotFound):
			return database.Identity{}, fmt.Errorf("looking up identity: %w", err)
		}
	}
	if database.NormalizeName(opts.Name) == "" {
		return database.Identity{}, fmt.Errorf("%w: enrollment requires a name", ErrInvalidOptions)
	}
	id := opts.IdentityID
	if id == "" {
		id = uuid.NewString()
	}
	return database.NewIdentity(id, opts.Name), nil
}

// publishEvent delivers the attendance event in the background.
func (s *Service) publishEvent(rec database.AttendanceRecord) {
	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.opts.Publisher.Publish(ctx, notify.EventFromRecord(rec)); err != nil {
			log.WithError(err).WithField("identity_id", rec.IdentityID).Warn("Failed to publish attendance event")
		}
	}()
}
