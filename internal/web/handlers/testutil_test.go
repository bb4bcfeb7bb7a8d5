package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-checkin/internal/capture"
	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/database/mock"
	"github.com/kozaktomas/face-checkin/internal/facematch"
	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/landmark/landmarktest"
)

const waitTimeout = 2 * time.Second

// testClock is a ticker factory whose ticks are sent by the test
type testClock struct {
	c chan time.Time
}

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

// testEnv wires a service over mock storage registered as the database backend
type testEnv struct {
	cfg      *config.Config
	gallery  *mock.Gallery
	recorder *mock.Recorder
	clock    *testClock
	service  *checkin.Service
	registry *SessionRegistry
	index    *database.TemplateIndex
	router   chi.Router
}

func newTestEnv(t *testing.T, det landmark.Detector) *testEnv {
	t.Helper()
	env := &testEnv{
		cfg:      testConfig(),
		gallery:  mock.NewGallery(),
		recorder: mock.NewRecorder(),
		clock:    &testClock{c: make(chan time.Time)},
		index:    database.NewTemplateIndex(facematch.MetricCosine),
	}

	database.RegisterBackend("mock",
		func() database.GalleryWriter { return env.gallery },
		func() database.AttendanceStore { return env.recorder })
	t.Cleanup(database.ResetBackend)

	svc, err := checkin.NewService(checkin.Options{
		Thresholds: env.cfg.Thresholds,
		Gallery:    env.gallery,
		Recorder:   env.recorder,
		NewTicker:  env.clock.ticker,
		OnEnrolled: func(tmpl database.EnrolledTemplate) { _ = env.index.Add(tmpl) },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.service = svc
	env.registry = NewSessionRegistry(time.Minute)
	t.Cleanup(env.registry.Stop)

	sessions := NewSessionsHandler(svc, env.registry, det)
	gallery := NewGalleryHandler(env.index)
	attendance := NewAttendanceHandler()
	cfgHandler := NewConfigHandler(env.cfg, svc)
	stats := NewStatsHandler(svc, env.registry)

	r := chi.NewRouter()
	r.Get("/api/v1/health", HealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/config", cfgHandler.Get)
		r.Get("/stats", stats.Get)
		r.Post("/sessions", sessions.Create)
		r.Get("/sessions/{id}", sessions.Get)
		r.Post("/sessions/{id}/frames", sessions.Frames)
		r.Get("/sessions/{id}/events", sessions.Events)
		r.Post("/sessions/{id}/retake", sessions.Retake)
		r.Post("/sessions/{id}/confirm", sessions.Confirm)
		r.Post("/sessions/{id}/record", sessions.Record)
		r.Delete("/sessions/{id}", sessions.Cancel)
		r.Get("/gallery", gallery.List)
		r.Get("/gallery/{identityId}", gallery.Get)
		r.Delete("/gallery/{identityId}", gallery.Delete)
		r.Get("/attendance", attendance.List)
	})
	env.router = r
	return env
}

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Thresholds: config.DefaultThresholds(),
		Attendance: config.AttendanceConfig{DedupWindow: 0},
	}
}

// do sends a request through the router
func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// createSession starts a session over HTTP and waits for it to validate frames
func (env *testEnv) createSession(t *testing.T, body map[string]any) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/sessions", body)
	assertStatusCode(t, rec, http.StatusCreated)
	var st checkin.Status
	parseJSONResponse(t, rec, &st)
	if st.ID == "" {
		t.Fatal("expected a session ID")
	}
	env.waitState(t, st.ID, capture.StateValidating)
	return st.ID
}

func (env *testEnv) waitState(t *testing.T, id string, want capture.State) {
	t.Helper()
	sess := env.registry.Get(id)
	if sess == nil {
		t.Fatalf("session %s not registered", id)
	}
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if sess.Status().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected state %s, got %s", want, sess.Status().State)
}

// frontalFrame is a well-framed face pushed with client-side detections
func frontalFrame() map[string]any {
	return map[string]any{
		"seq":        1,
		"width":      landmarktest.Width,
		"height":     landmarktest.Height,
		"luminance":  128,
		"detections": []landmark.Detection{landmarktest.Frontal()},
	}
}

// captureFrontal pushes a valid frame and runs the countdown to review
func (env *testEnv) captureFrontal(t *testing.T, id string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/frames", frontalFrame())
	assertStatusCode(t, rec, http.StatusOK)
	for range env.cfg.Thresholds.Capture.CountdownTicks {
		env.clock.tick(t)
	}
	env.waitState(t, id, capture.StateReviewing)
}

// frontalVector is the normalized template of landmarktest.Frontal
func frontalVector() []float32 {
	layout := landmark.DefaultLayout()
	vec, _ := facematch.Normalize(landmarktest.Frontal().Landmarks, layout.LeftEyeOuter, layout.RightEyeOuter)
	return vec.Float32()
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
