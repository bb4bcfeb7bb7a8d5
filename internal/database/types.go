package database

import (
	"time"

	"github.com/kozaktomas/face-checkin/internal/facematch"
)

// EnrolledTemplate is one normalized landmark vector of an identity.
type EnrolledTemplate struct {
	ID         string
	IdentityID string
	Name       string // cached identity name
	Vector     []float32
	Dim        int
	CreatedAt  time.Time
}

// Template converts the stored row into the matcher's representation.
func (t EnrolledTemplate) Template() facematch.Template {
	return facematch.Template{
		TemplateID: t.ID,
		IdentityID: t.IdentityID,
		Name:       t.Name,
		Vector:     facematch.FromFloat32(t.Vector),
	}
}

// Templates converts a gallery for matching.
func Templates(rows []EnrolledTemplate) []facematch.Template {
	out := make([]facematch.Template, len(rows))
	for i := range rows {
		out[i] = rows[i].Template()
	}
	return out
}

// AttendanceRecord is one accepted check-in.
type AttendanceRecord struct {
	ID         int64
	IdentityID string
	Name       string
	EventRef   string // free-form course/session code
	Score      float64
	Metric     string
	RecordedAt time.Time
}

// AttendanceFilter narrows attendance listings. Zero fields match everything.
type AttendanceFilter struct {
	IdentityID string
	EventRef   string
	Since      time.Time
	Limit      int
	Offset     int
}

// Matches reports whether a record passes the filter (limit and offset aside).
func (f AttendanceFilter) Matches(rec AttendanceRecord) bool {
	if f.IdentityID != "" && rec.IdentityID != f.IdentityID {
		return false
	}
	if f.EventRef != "" && rec.EventRef != f.EventRef {
		return false
	}
	if !f.Since.IsZero() && rec.RecordedAt.Before(f.Since) {
		return false
	}
	return true
}
