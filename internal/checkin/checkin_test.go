package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-checkin/internal/camera"
	"github.com/kozaktomas/face-checkin/internal/capture"
	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/database/mock"
	"github.com/kozaktomas/face-checkin/internal/detector"
	"github.com/kozaktomas/face-checkin/internal/facematch"
	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/landmark/landmarktest"
	"github.com/kozaktomas/face-checkin/internal/notify"
)

const waitTimeout = 2 * time.Second

// testClock is a ticker factory whose ticks are sent by the test.
type testClock struct {
	c chan time.Time
}

func newClock() *testClock { return &testClock{c: make(chan time.Time)} }

func (c *testClock) ticker(time.Duration) capture.Ticker { return c }
func (c *testClock) C() <-chan time.Time                 { return c.c }
func (c *testClock) Stop()                               {}

func (c *testClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.c <- time.Now():
	case <-time.After(waitTimeout):
		t.Fatal("tick was not consumed")
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.AttendanceEvent
}

func (p *fakePublisher) Publish(_ context.Context, ev notify.AttendanceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) Events() []notify.AttendanceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.AttendanceEvent(nil), p.events...)
}

type fixture struct {
	svc       *Service
	gallery   *mock.Gallery
	recorder  *mock.Recorder
	publisher *fakePublisher
	clock     *testClock
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		gallery:   mock.NewGallery(),
		recorder:  mock.NewRecorder(),
		publisher: &fakePublisher{},
		clock:     newClock(),
	}
	opts := Options{
		Thresholds: config.DefaultThresholds(),
		Gallery:    f.gallery,
		Recorder:   f.recorder,
		Publisher:  f.publisher,
		NewTicker:  f.clock.ticker,
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

// frontalVector is the normalized template of landmarktest.Frontal.
func frontalVector() []float32 {
	layout := landmark.DefaultLayout()
	vec, _ := facematch.Normalize(landmarktest.Frontal().Landmarks, layout.LeftEyeOuter, layout.RightEyeOuter)
	return vec.Float32()
}

// otherVector is far from frontalVector under both metrics' defaults.
func otherVector() []float32 {
	vec := frontalVector()
	for i := range vec {
		vec[i] = vec[i]*2 + 0.5
	}
	return vec
}

type running struct {
	sess *Session
	errc chan error
}

func (f *fixture) start(t *testing.T, opts SessionOptions) running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sess, err := f.svc.NewSession(ctx, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	r := running{sess: sess, errc: make(chan error, 1)}
	go func() { r.errc <- sess.Run(ctx) }()
	waitState(t, sess, capture.StateValidating)
	return r
}

func (r running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("session did not finish")
		return nil
	}
}

func waitState(t *testing.T, sess *Session, want capture.State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if sess.Status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected state %s, got %s", want, sess.Status().State)
}

// captureFrontal presents a valid face for a full countdown.
func (f *fixture) captureFrontal(t *testing.T, sess *Session) {
	t.Helper()
	report, err := sess.SubmitFrame(context.Background(), landmarktest.Frame(128), []landmark.Detection{landmarktest.Frontal()})
	if err != nil {
		t.Fatalf("SubmitFrame: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected a valid report, got %q", report.Reason)
	}
	for range 3 {
		f.clock.tick(t)
	}
	waitState(t, sess, capture.StateReviewing)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeCheckin, false},
		{"checkin", ModeCheckin, false},
		{"enroll", ModeEnroll, false},
		{"register", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(Options{Recorder: mock.NewRecorder()}); err == nil {
		t.Error("expected error without gallery")
	}
	if _, err := NewService(Options{Gallery: mock.NewGallery()}); err == nil {
		t.Error("expected error without recorder")
	}

	th := config.DefaultThresholds()
	th.Match.Metric = "hamming"
	if _, err := NewService(Options{Gallery: mock.NewGallery(), Recorder: mock.NewRecorder(), Thresholds: th}); err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestNewService_ZeroCosineThreshold(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Thresholds.Match.Metric = facematch.MetricCosine
		o.Thresholds.Match.SimilarityThreshold = 0
	})
	if err := f.svc.Thresholds().Validate(); err != nil {
		t.Fatalf("zero cosine threshold must be valid: %v", err)
	}
	if got := f.svc.matcher.Threshold(); got != 0 {
		t.Fatalf("expected configured threshold 0 in effect, got %v", got)
	}

	gallery := []facematch.Template{{TemplateID: "t", IdentityID: "A", Vector: facematch.FeatureVector{1, 1, 0}}}
	result := f.svc.matcher.Match(facematch.FeatureVector{1, 0, 0}, gallery)
	if !result.Accepted {
		t.Errorf("expected similarity %.3f accepted, got %+v", result.Score, result)
	}
}

func TestSession_NoFaceHoldsValidating(t *testing.T) {
	f := newFixture(t, nil)
	r := f.start(t, SessionOptions{})

	for range 5 {
		report, err := r.sess.SubmitFrame(context.Background(), landmarktest.Frame(128), nil)
		if err != nil {
			t.Fatal(err)
		}
		if report.Valid {
			t.Fatal("empty frame must not be valid")
		}
	}

	st := r.sess.Status()
	if st.State != capture.StateValidating {
		t.Fatalf("expected validating, got %s", st.State)
	}
	if st.Guidance != "No face detected. Look at the camera" {
		t.Errorf("unexpected guidance %q", st.Guidance)
	}
	if err := r.sess.Cancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected run error: %v", err)
	}
}

func TestSession_LocalizedGuidance(t *testing.T) {
	f := newFixture(t, nil)
	r := f.start(t, SessionOptions{Languages: []string{"cs-CZ,cs;q=0.9"}})
	defer r.sess.Cancel(context.Background())

	if _, err := r.sess.SubmitFrame(context.Background(), landmarktest.Frame(128), nil); err != nil {
		t.Fatal(err)
	}
	if got := r.sess.Status().Guidance; got != "Nebyl rozpoznán obličej. Podívejte se do kamery" {
		t.Errorf("expected Czech guidance, got %q", got)
	}
}

func TestSession_EmptyGalleryNeverRecords(t *testing.T) {
	f := newFixture(t, nil)
	r := f.start(t, SessionOptions{EventRef: "PHYS-101"})
	f.captureFrontal(t, r.sess)

	out, err := r.sess.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Recognized() {
		t.Fatal("empty gallery must not match")
	}
	if out.Match.Compared != 0 {
		t.Errorf("expected nothing compared, got %d", out.Match.Compared)
	}
	if f.recorder.Calls != 0 {
		t.Errorf("recorder must not be called, got %d calls", f.recorder.Calls)
	}
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected run error: %v", err)
	}

	st := r.sess.Status()
	if st.State != capture.StateConfirmed || st.Outcome == nil {
		t.Fatalf("expected confirmed with outcome, got %+v", st)
	}
	if st.Guidance != "Face not recognized. Please retake or ask staff" {
		t.Errorf("unexpected guidance %q", st.Guidance)
	}
	if got := f.svc.Stats(); got.Rejected != 1 || got.Captures != 1 {
		t.Errorf("unexpected stats %+v", got)
	}
}

func TestSession_CheckinRecordsAttendance(t *testing.T) {
	f := newFixture(t, nil)
	f.gallery.AddTemplate("id-jana", "Jana Nováková", "t-1", frontalVector())
	f.gallery.AddTemplate("id-petr", "Petr Novák", "t-2", otherVector())

	r := f.start(t, SessionOptions{EventRef: "PHYS-101"})
	events := r.sess.AddListener()
	f.captureFrontal(t, r.sess)

	out, err := r.sess.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !out.Recognized() || out.IdentityID != "id-jana" {
		t.Fatalf("expected id-jana recognized, got %+v", out)
	}
	if out.Match.Compared != 2 || out.Match.Score > 0.0001 {
		t.Errorf("unexpected match %+v", out.Match)
	}
	if out.RecordID != 1 || out.RecordedAt == nil {
		t.Errorf("expected record id 1, got %+v", out)
	}
	if out.Message != "Welcome, Jana Nováková. You are checked in" {
		t.Errorf("unexpected message %q", out.Message)
	}
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected run error: %v", err)
	}

	recs := f.recorder.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].EventRef != "PHYS-101" || recs[0].Metric != facematch.MetricMeanDistance {
		t.Errorf("unexpected record %+v", recs[0])
	}

	f.svc.Close()
	published := f.publisher.Events()
	if len(published) != 1 || published[0].IdentityID != "id-jana" || published[0].EventRef != "PHYS-101" {
		t.Errorf("unexpected published events %+v", published)
	}

	var types []string
	for ev := range events {
		types = append(types, ev.Type)
	}
	for _, want := range []string{EventReport, string(capture.EventCountdown), string(capture.EventCaptured), EventOutcome} {
		found := false
		for _, got := range types {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a %q event, got %v", want, types)
		}
	}

	stats := f.svc.Stats()
	if stats.Sessions != 1 || stats.Accepted != 1 || stats.Matches != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestSession_RecordFailureIsRetryable(t *testing.T) {
	f := newFixture(t, nil)
	f.gallery.AddTemplate("id-jana", "Jana", "t-1", frontalVector())
	f.recorder.RecordError = errors.New("connection reset")
	f.recorder.FailTimes = 1

	r := f.start(t, SessionOptions{EventRef: "PHYS-101"})
	f.captureFrontal(t, r.sess)

	out, err := r.sess.Confirm(context.Background())
	if !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("expected ErrSubmitFailed, got %v", err)
	}
	if out == nil || out.SubmitError == "" || !out.Recognized() {
		t.Fatalf("expected recognized outcome with submit error, got %+v", out)
	}
	waitPending(t, r.sess, true)
	select {
	case <-r.sess.Done():
		t.Fatal("session must stay open while a submission is pending")
	default:
	}

	out, err = r.sess.RetryRecord(context.Background())
	if err != nil {
		t.Fatalf("RetryRecord: %v", err)
	}
	if out.RecordID != 1 || out.SubmitError != "" {
		t.Errorf("unexpected outcome after retry %+v", out)
	}
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected run error: %v", err)
	}
	if f.recorder.Calls != 2 {
		t.Errorf("expected 2 record calls, got %d", f.recorder.Calls)
	}
	if _, err := r.sess.RetryRecord(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if got := f.svc.Stats().RecordFailures; got != 1 {
		t.Errorf("expected 1 record failure, got %d", got)
	}
}

func waitPending(t *testing.T, sess *Session, want bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if sess.Status().SubmitPending == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected submit pending %v", want)
}

func TestSession_CancelAfterFailedRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.gallery.AddTemplate("id-jana", "Jana", "t-1", frontalVector())
	f.recorder.RecordError = errors.New("database down")

	r := f.start(t, SessionOptions{})
	f.captureFrontal(t, r.sess)
	if _, err := r.sess.Confirm(context.Background()); !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("expected ErrSubmitFailed, got %v", err)
	}

	if err := r.sess.Cancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected run error: %v", err)
	}
	if st := r.sess.Status(); st.State != capture.StateConfirmed {
		t.Errorf("cancel after confirm keeps the confirmed state, got %s", st.State)
	}
}

func TestSession_DuplicateCheckinWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, func(o *Options) {
		o.DedupWindow = 10 * time.Minute
		o.Now = func() time.Time { return now }
	})
	f.gallery.AddTemplate("id-jana", "Jana", "t-1", frontalVector())
	if _, err := f.recorder.RecordAttendance(context.Background(), database.AttendanceRecord{
		IdentityID: "id-jana",
		EventRef:   "PHYS-101",
		RecordedAt: now.Add(-5 * time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	r := f.start(t, SessionOptions{EventRef: "PHYS-101"})
	f.captureFrontal(t, r.sess)

	out, err := r.sess.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !out.AlreadyRecorded || out.RecordID != 1 {
		t.Errorf("expected the existing record reported, got %+v", out)
	}
	if out.Message != "Jana is already checked in" {
		t.Errorf("unexpected message %q", out.Message)
	}
	if got := len(f.recorder.Records()); got != 1 {
		t.Errorf("expected no new record, got %d records", got)
	}
	f.svc.Close()
	if got := len(f.publisher.Events()); got != 0 {
		t.Errorf("duplicates must not be published, got %d", got)
	}
}

func TestSession_EnrollThenCheckin(t *testing.T) {
	var indexed []string
	f := newFixture(t, func(o *Options) {
		o.OnEnrolled = func(tmpl database.EnrolledTemplate) { indexed = append(indexed, tmpl.ID) }
	})

	r := f.start(t, SessionOptions{Mode: ModeEnroll, Name: "Petr Novák"})
	f.captureFrontal(t, r.sess)

	out, err := r.sess.Confirm(context.Background())
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.TemplateID == "" || out.IdentityID == "" {
		t.Fatalf("expected generated ids, got %+v", out)
	}
	if out.Message != "Petr Novák is registered" {
		t.Errorf("unexpected message %q", out.Message)
	}
	if err := r.wait(t); err != nil {
		t.Fatal(err)
	}
	if len(indexed) != 1 || indexed[0] != out.TemplateID {
		t.Errorf("expected OnEnrolled with the new template, got %v", indexed)
	}
	if f.recorder.Calls != 0 {
		t.Error("enrollment must not record attendance")
	}

	identity, err := f.gallery.FindIdentityByName(context.Background(), "petr novak")
	if err != nil {
		t.Fatalf("lookup by normalized name: %v", err)
	}
	if identity.ID != out.IdentityID {
		t.Errorf("expected identity %s, got %s", out.IdentityID, identity.ID)
	}
	templates, _ := f.gallery.FetchTemplates(context.Background())
	if len(templates) != 1 || templates[0].Dim != landmark.FaceMeshPoints*3 {
		t.Fatalf("unexpected gallery %+v", templates)
	}

	r = f.start(t, SessionOptions{})
	f.captureFrontal(t, r.sess)
	checkin, err := r.sess.Confirm(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !checkin.Recognized() || checkin.IdentityID != out.IdentityID {
		t.Errorf("expected the enrolled identity recognized, got %+v", checkin)
	}
}

func TestSession_EnrollExistingIdentity(t *testing.T) {
	f := newFixture(t, nil)
	f.gallery.AddTemplate("id-jana", "Jana", "t-1", frontalVector())

	r := f.start(t, SessionOptions{Mode: ModeEnroll, IdentityID: "id-jana"})
	f.captureFrontal(t, r.sess)
	out, err := r.sess.Confirm(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.IdentityID != "id-jana" || out.Name != "Jana" {
		t.Errorf("expected template added to id-jana, got %+v", out)
	}
	identity, _ := f.gallery.GetIdentity(context.Background(), "id-jana")
	if identity.TemplateCount != 2 {
		t.Errorf("expected 2 templates, got %d", identity.TemplateCount)
	}
}

func TestNewSession_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.NewSession(ctx, SessionOptions{Mode: ModeEnroll}); !errors.Is(err, ErrInvalidOptions) {
		t.Error("expected error for enrollment without a name")
	}
	if _, err := f.svc.NewSession(ctx, SessionOptions{Mode: "audit"}); !errors.Is(err, ErrInvalidOptions) {
		t.Error("expected error for unknown mode")
	}

	f.gallery.FetchError = errors.New("timeout")
	if _, err := f.svc.NewSession(ctx, SessionOptions{}); err == nil {
		t.Error("expected gallery fetch error")
	}
}

func TestSession_RetakeAndCancel(t *testing.T) {
	f := newFixture(t, nil)
	r := f.start(t, SessionOptions{})
	ctx := context.Background()

	if _, err := r.sess.Confirm(ctx); !errors.Is(err, ErrNotReviewing) {
		t.Errorf("expected ErrNotReviewing before capture, got %v", err)
	}

	f.captureFrontal(t, r.sess)
	if err := r.sess.Retake(ctx); err != nil {
		t.Fatalf("Retake: %v", err)
	}
	waitState(t, r.sess, capture.StateValidating)
	if err := r.sess.Retake(ctx); !errors.Is(err, ErrNotReviewing) {
		t.Errorf("expected ErrNotReviewing, got %v", err)
	}

	f.captureFrontal(t, r.sess)
	if got := r.sess.Status().Captures; got != 2 {
		t.Errorf("expected 2 captures, got %d", got)
	}

	if err := r.sess.Cancel(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.wait(t); err != nil {
		t.Errorf("unexpected run error: %v", err)
	}
	st := r.sess.Status()
	if st.State != capture.StateCancelled || st.TimerActive || st.CameraOn {
		t.Errorf("expected cancelled without timer or camera, got %+v", st.Status)
	}
	if err := r.sess.Cancel(ctx); err != nil {
		t.Errorf("repeated cancel must succeed, got %v", err)
	}
	if _, err := r.sess.SubmitFrame(ctx, landmarktest.Frame(128), nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_CancelBeforeRun(t *testing.T) {
	f := newFixture(t, nil)
	sess, err := f.svc.NewSession(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Cancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sess.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected a cancelled session to refuse running, got %v", err)
	}
	if sess.Status().State != capture.StateCancelled {
		t.Errorf("expected cancelled, got %s", sess.Status().State)
	}
}

func TestSession_ContextCancellation(t *testing.T) {
	f := newFixture(t, nil)
	sess, err := f.svc.NewSession(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()
	waitState(t, sess, capture.StateValidating)

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("session did not stop")
	}
	if sess.Status().State != capture.StateCancelled {
		t.Errorf("expected cancelled, got %s", sess.Status().State)
	}
}

func replayOf(n int, detections ...landmark.Detection) *camera.Recording {
	lum := 128.0
	rec := &camera.Recording{}
	for i := range n {
		rec.Frames = append(rec.Frames, camera.RecordedFrame{
			Seq:        uint64(i + 1),
			Width:      landmarktest.Width,
			Height:     landmarktest.Height,
			Luminance:  &lum,
			Detections: detections,
		})
	}
	return rec
}

func TestSession_AttachedSource(t *testing.T) {
	f := newFixture(t, nil)
	f.gallery.AddTemplate("id-jana", "Jana", "t-1", frontalVector())

	rec := replayOf(3, landmarktest.Frontal())
	source := camera.NewReplaySource(rec, camera.ReplayOptions{Interval: time.Millisecond, Loop: true})
	defer source.Close()

	sess, err := f.svc.NewSession(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Attach(source, rec.Detector()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()

	waitState(t, sess, capture.StateCountingDown)
	if err := sess.Attach(source, rec.Detector()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	for range 3 {
		f.clock.tick(t)
	}
	waitState(t, sess, capture.StateReviewing)
	if sess.Status().CameraOn {
		t.Error("expected the source frozen while reviewing")
	}

	out, err := sess.Confirm(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Recognized() {
		t.Errorf("expected a match, got %+v", out)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("unexpected run error: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("session did not finish")
	}
}

func TestSession_SourceEndsBeforeCapture(t *testing.T) {
	f := newFixture(t, nil)
	rec := replayOf(2)
	source := camera.NewReplaySource(rec, camera.ReplayOptions{})
	defer source.Close()

	sess, err := f.svc.NewSession(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	canned := detector.NewCanned()
	if err := sess.Attach(source, canned); err != nil {
		t.Fatal(err)
	}

	if err := sess.Run(context.Background()); !errors.Is(err, ErrSourceEnded) {
		t.Fatalf("expected ErrSourceEnded, got %v", err)
	}
	if canned.Calls() != 2 {
		t.Errorf("expected 2 detections, got %d", canned.Calls())
	}
	if st := sess.Status(); st.State != capture.StateCancelled || st.CameraOn {
		t.Errorf("unexpected final status %+v", st.Status)
	}
}
