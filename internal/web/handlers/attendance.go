package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-checkin/internal/constants"
	"github.com/kozaktomas/face-checkin/internal/database"
)

// AttendanceHandler handles attendance listing
type AttendanceHandler struct{}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler() *AttendanceHandler {
	return &AttendanceHandler{}
}

// AttendanceResponse represents one stored check-in
type AttendanceResponse struct {
	ID         int64     `json:"id"`
	IdentityID string    `json:"identity_id"`
	Name       string    `json:"name"`
	EventRef   string    `json:"event_ref,omitempty"`
	Score      float64   `json:"score"`
	Metric     string    `json:"metric"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AttendanceListResponse is one page of records
type AttendanceListResponse struct {
	Records []AttendanceResponse `json:"records"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

// parseSince accepts RFC 3339 timestamps and plain dates.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// parseAttendanceFilter reads the query parameters into a filter
func parseAttendanceFilter(r *http.Request) (database.AttendanceFilter, string) {
	q := r.URL.Query()
	filter := database.AttendanceFilter{
		IdentityID: q.Get("identity_id"),
		EventRef:   q.Get("event_ref"),
		Limit:      constants.DefaultHandlerPageSize,
	}

	if s := q.Get("since"); s != "" {
		since, err := parseSince(s)
		if err != nil {
			return filter, "invalid since: use RFC 3339 or YYYY-MM-DD"
		}
		filter.Since = since
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return filter, "invalid limit"
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, "invalid offset"
		}
		filter.Offset = n
	}
	return filter, ""
}

// List returns attendance records, newest first
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, msg := parseAttendanceFilter(r)
	if msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	store, err := database.GetAttendanceStore(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	records, err := store.ListAttendance(ctx, filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	// Total ignores paging.
	all := filter
	all.Limit, all.Offset = 0, 0
	total := len(records) + filter.Offset
	if len(records) == filter.Limit || filter.Offset > 0 {
		if matching, err := store.ListAttendance(ctx, all); err == nil {
			total = len(matching)
		}
	}

	resp := AttendanceListResponse{
		Records: make([]AttendanceResponse, len(records)),
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	for i, rec := range records {
		resp.Records[i] = AttendanceResponse{
			ID:         rec.ID,
			IdentityID: rec.IdentityID,
			Name:       rec.Name,
			EventRef:   rec.EventRef,
			Score:      rec.Score,
			Metric:     rec.Metric,
			RecordedAt: rec.RecordedAt,
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
