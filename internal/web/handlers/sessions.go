package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/detector"
	"github.com/kozaktomas/face-checkin/internal/landmark"
	"github.com/kozaktomas/face-checkin/internal/quality"
)

// SessionsHandler handles capture session endpoints
type SessionsHandler struct {
	service  *checkin.Service
	registry *SessionRegistry
	detector landmark.Detector
	now      func() time.Time
}

// NewSessionsHandler creates a new sessions handler. The detector is optional;
// without it clients must send detections with every frame.
func NewSessionsHandler(svc *checkin.Service, registry *SessionRegistry, det landmark.Detector) *SessionsHandler {
	return &SessionsHandler{
		service:  svc,
		registry: registry,
		detector: det,
		now:      time.Now,
	}
}

// CreateSessionRequest represents a request to start a capture session
type CreateSessionRequest struct {
	Mode     string `json:"mode"`
	EventRef string `json:"event_ref"`
	Identity struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"identity"`
	RequireOpenEyes *bool `json:"require_open_eyes"`
}

// FrameRequest is one frame pushed by a client. Either detections or an
// encoded image (base64 in JSON) must be present.
type FrameRequest struct {
	Seq        uint64               `json:"seq"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Luminance  *float64             `json:"luminance"`
	Detections []landmark.Detection `json:"detections"`
	Image      []byte               `json:"image"`
}

// FrameResponse is the gate verdict together with the session status
type FrameResponse struct {
	Report quality.Report `json:"report"`
	Status checkin.Status `json:"status"`
}

// OutcomeResponse wraps a confirmation or record result
type OutcomeResponse struct {
	Outcome *checkin.Outcome `json:"outcome"`
	Status  checkin.Status   `json:"status"`
	Error   string           `json:"error,omitempty"`
}

func commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), constants.SessionCommandTimeout)
}

// lookup resolves the {id} URL parameter; it writes a 404 when the session is unknown.
func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) *checkin.Session {
	sess := h.registry.Get(chi.URLParam(r, "id"))
	if sess == nil {
		respondError(w, http.StatusNotFound, "session not found")
	}
	return sess
}

// Create starts a new capture session
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	mode, err := checkin.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := checkin.SessionOptions{
		Mode:            mode,
		EventRef:        req.EventRef,
		IdentityID:      req.Identity.ID,
		Name:            req.Identity.Name,
		RequireOpenEyes: req.RequireOpenEyes,
	}
	if lang := r.Header.Get("Accept-Language"); lang != "" {
		opts.Languages = []string{lang}
	}

	sess, err := h.service.NewSession(r.Context(), opts)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.registry.Start(sess)

	respondJSON(w, http.StatusCreated, sess.Status())
}

// Get returns the session status
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	respondJSON(w, http.StatusOK, sess.Status())
}

// Frames evaluates one pushed frame
func (h *SessionsHandler) Frames(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxFrameBodySize)
	var req FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	frame := landmark.Frame{
		Seq:        req.Seq,
		Width:      req.Width,
		Height:     req.Height,
		Luminance:  req.Luminance,
		CapturedAt: h.now(),
	}
	if len(req.Image) > 0 {
		img, err := detector.DecodeImage(req.Image)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		frame.Image = img
		bounds := img.Bounds()
		frame.Width, frame.Height = bounds.Dx(), bounds.Dy()
	}

	ctx, cancel := commandContext(r)
	defer cancel()

	detections := req.Detections
	if detections == nil {
		if frame.Image == nil {
			respondError(w, http.StatusBadRequest, "frame needs detections or an image")
			return
		}
		if h.detector == nil {
			respondError(w, http.StatusBadRequest, "no landmark detector configured; send detections")
			return
		}
		dets, err := h.detector.Detect(ctx, frame)
		if err != nil {
			log.WithError(err).WithField("session", sess.ID).Warn("Landmark detection failed")
			respondError(w, http.StatusBadGateway, "landmark detection failed")
			return
		}
		detections = dets
	}

	report, err := sess.SubmitFrame(ctx, frame, detections)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, FrameResponse{Report: report, Status: sess.Status()})
}

// Events streams session events as SSE
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSessionEvents(w, r, h.registry.Get)
}

// Retake discards the snapshot under review
func (h *SessionsHandler) Retake(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	ctx, cancel := commandContext(r)
	defer cancel()

	if err := sess.Retake(ctx); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Status())
}

// Confirm accepts the snapshot under review and matches or enrolls it
func (h *SessionsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	ctx, cancel := commandContext(r)
	defer cancel()

	out, err := sess.Confirm(ctx)
	h.respondOutcome(w, r, sess, out, err)
}

// Record retries a failed submission
func (h *SessionsHandler) Record(w http.ResponseWriter, r *http.Request) {
	sess := h.lookup(w, r)
	if sess == nil {
		return
	}
	ctx, cancel := commandContext(r)
	defer cancel()

	out, err := sess.RetryRecord(ctx)
	h.respondOutcome(w, r, sess, out, err)
}

// respondOutcome answers a confirm or record call. A failed submission still
// carries the outcome so the client can offer a retry.
func (h *SessionsHandler) respondOutcome(w http.ResponseWriter, r *http.Request, sess *checkin.Session, out *checkin.Outcome, err error) {
	if err != nil && out == nil {
		respondServiceError(w, r, err)
		return
	}
	resp := OutcomeResponse{Outcome: out, Status: sess.Status()}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, statusForError(err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Cancel cancels and forgets the session. Unknown sessions are not an error.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess := h.registry.Get(id)
	if sess == nil {
		respondJSON(w, http.StatusOK, map[string]string{"id": id, "state": "cancelled"})
		return
	}

	ctx, cancel := commandContext(r)
	defer cancel()

	if err := sess.Cancel(ctx); err != nil {
		respondServiceError(w, r, err)
		return
	}
	status := sess.Status()
	h.registry.Remove(id)

	respondJSON(w, http.StatusOK, status)
}
