package database

import (
	"context"
	"errors"
)

// ErrIdentityNotFound is returned when an identity lookup has no result.
var ErrIdentityNotFound = errors.New("identity not found")

// GalleryReader provides read-only access to enrolled identities and templates
type GalleryReader interface {
	// FetchTemplates returns every enrolled template, ordered by template ID
	FetchTemplates(ctx context.Context) ([]EnrolledTemplate, error)
	// GetIdentity retrieves an identity with its template count
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	// FindIdentityByName looks up an identity by normalized name
	FindIdentityByName(ctx context.Context, name string) (*Identity, error)
	// ListIdentities returns all identities ordered by name
	ListIdentities(ctx context.Context) ([]Identity, error)
	// CountTemplates returns the gallery size
	CountTemplates(ctx context.Context) (int, error)
}

// GalleryWriter provides write access to the gallery
type GalleryWriter interface {
	GalleryReader

	// Enroll creates the identity if needed and stores a new template for it.
	// Empty template IDs are generated.
	Enroll(ctx context.Context, identity Identity, tmpl EnrolledTemplate) (*EnrolledTemplate, error)

	// DeleteIdentity removes an identity and all of its templates.
	// Returns the deleted template IDs for index cleanup.
	DeleteIdentity(ctx context.Context, id string) ([]string, error)
}

// TemplateSearcher is implemented by backends that can rank templates natively.
type TemplateSearcher interface {
	// NearestTemplates returns up to k template IDs closest to the vector by cosine distance
	NearestTemplates(ctx context.Context, vector []float32, k int) ([]string, error)
}

// AttendanceRecorder stores accepted check-ins
type AttendanceRecorder interface {
	// RecordAttendance stores a record; a zero RecordedAt is set to now
	RecordAttendance(ctx context.Context, rec AttendanceRecord) (*AttendanceRecord, error)
	// LastAttendance returns the newest record for the identity and event, or nil
	LastAttendance(ctx context.Context, identityID, eventRef string) (*AttendanceRecord, error)
}

// AttendanceReader lists stored check-ins
type AttendanceReader interface {
	// ListAttendance returns records matching the filter, newest first
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
	// CountAttendance returns the total number of records
	CountAttendance(ctx context.Context) (int, error)
}

// AttendanceStore combines recording and listing.
type AttendanceStore interface {
	AttendanceRecorder
	AttendanceReader
}

// AttendanceCounter is implemented by stores that aggregate attendance per identity.
type AttendanceCounter interface {
	CountByIdentities(ctx context.Context, identityIDs []string) (map[string]int, error)
}
