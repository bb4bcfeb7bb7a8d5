package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-checkin/internal/checkin"
)

// sendSSEEvent writes one server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// sessionFinished reports whether a session will emit no further events.
func sessionFinished(st checkin.Status) bool {
	return st.State.Terminal() && !st.SubmitPending
}

// setupSSEConnection finds the session and sets up SSE headers.
// On failure it writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter, r *http.Request, lookup func(string) *checkin.Session) (*checkin.Session, http.Flusher, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return nil, nil, false
	}

	sess := lookup(id)
	if sess == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return sess, flusher, true
}

// streamSessionEvents sends the current status and then every session event
// until the session finishes, the client disconnects or the channel closes.
func streamSessionEvents(w http.ResponseWriter, r *http.Request, lookup func(string) *checkin.Session) {
	sess, flusher, ok := setupSSEConnection(w, r, lookup)
	if !ok {
		return
	}

	eventCh := sess.AddListener()
	defer sess.RemoveListener(eventCh)

	status := sess.Status()
	sendSSEEvent(w, flusher, "status", status)
	if sessionFinished(status) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if event.Type == checkin.EventOutcome && sessionFinished(sess.Status()) {
				return
			}
		}
	}
}
