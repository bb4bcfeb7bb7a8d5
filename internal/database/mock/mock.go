// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-checkin/internal/database"
)

// Gallery is an in-memory implementation of database.GalleryWriter
type Gallery struct {
	mu         sync.RWMutex
	identities map[string]*database.Identity
	templates  map[string]database.EnrolledTemplate

	// Error injection
	FetchError  error
	GetError    error
	ListError   error
	EnrollError error
	DeleteError error
	SearchError error

	// Call counters
	Fetches int
	Enrolls int
}

// NewGallery creates an empty mock gallery
func NewGallery() *Gallery {
	return &Gallery{
		identities: make(map[string]*database.Identity),
		templates:  make(map[string]database.EnrolledTemplate),
	}
}

// AddTemplate adds a template (and its identity) to the mock store
func (m *Gallery) AddTemplate(identityID, name, templateID string, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureIdentity(database.Identity{ID: identityID, Name: name})
	m.templates[templateID] = database.EnrolledTemplate{
		ID:         templateID,
		IdentityID: identityID,
		Name:       name,
		Vector:     vector,
		Dim:        len(vector),
	}
}

func (m *Gallery) ensureIdentity(identity database.Identity) *database.Identity {
	if existing, ok := m.identities[identity.ID]; ok {
		return existing
	}
	identity.NameNormalized = database.NormalizeName(identity.Name)
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}
	m.identities[identity.ID] = &identity
	return &identity
}

func (m *Gallery) templateCount(identityID string) int {
	n := 0
	for _, t := range m.templates {
		if t.IdentityID == identityID {
			n++
		}
	}
	return n
}

// FetchTemplates returns all templates ordered by ID
func (m *Gallery) FetchTemplates(ctx context.Context) ([]database.EnrolledTemplate, error) {
	m.mu.Lock()
	m.Fetches++
	m.mu.Unlock()
	if m.FetchError != nil {
		return nil, m.FetchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.EnrolledTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b database.EnrolledTemplate) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// GetIdentity retrieves an identity by ID
func (m *Gallery) GetIdentity(ctx context.Context, id string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	identity, ok := m.identities[id]
	if !ok {
		return nil, database.ErrIdentityNotFound
	}
	out := *identity
	out.TemplateCount = m.templateCount(id)
	return &out, nil
}

// FindIdentityByName looks up the oldest identity with the given normalized name
func (m *Gallery) FindIdentityByName(ctx context.Context, name string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	normalized := database.NormalizeName(name)
	var oldest *database.Identity
	for _, identity := range m.identities {
		if identity.NameNormalized != normalized {
			continue
		}
		if oldest == nil || identity.CreatedAt.Before(oldest.CreatedAt) ||
			(identity.CreatedAt.Equal(oldest.CreatedAt) && identity.ID < oldest.ID) {
			oldest = identity
		}
	}
	if oldest == nil {
		return nil, database.ErrIdentityNotFound
	}
	out := *oldest
	out.TemplateCount = m.templateCount(oldest.ID)
	return &out, nil
}

// ListIdentities returns identities ordered by name
func (m *Gallery) ListIdentities(ctx context.Context) ([]database.Identity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]database.Identity, 0, len(m.identities))
	for _, identity := range m.identities {
		i := *identity
		i.TemplateCount = m.templateCount(i.ID)
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b database.Identity) int {
		if c := strings.Compare(a.NameNormalized, b.NameNormalized); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// CountTemplates returns the number of templates
func (m *Gallery) CountTemplates(ctx context.Context) (int, error) {
	if m.FetchError != nil {
		return 0, m.FetchError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates), nil
}

// Enroll stores a template, creating the identity if needed
func (m *Gallery) Enroll(ctx context.Context, identity database.Identity, tmpl database.EnrolledTemplate) (*database.EnrolledTemplate, error) {
	if m.EnrollError != nil {
		return nil, m.EnrollError
	}
	if identity.ID == "" {
		return nil, fmt.Errorf("identity id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Enrolls++
	stored := m.ensureIdentity(identity)
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	tmpl.IdentityID = stored.ID
	tmpl.Name = stored.Name
	tmpl.Dim = len(tmpl.Vector)
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now()
	}
	m.templates[tmpl.ID] = tmpl
	return &tmpl, nil
}

// DeleteIdentity removes an identity and its templates
func (m *Gallery) DeleteIdentity(ctx context.Context, id string) ([]string, error) {
	if m.DeleteError != nil {
		return nil, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[id]; !ok {
		return nil, database.ErrIdentityNotFound
	}
	delete(m.identities, id)
	var deleted []string
	for tid, t := range m.templates {
		if t.IdentityID == id {
			deleted = append(deleted, tid)
			delete(m.templates, tid)
		}
	}
	slices.Sort(deleted)
	return deleted, nil
}

// NearestTemplates ranks templates by cosine distance
func (m *Gallery) NearestTemplates(ctx context.Context, vector []float32, k int) ([]string, error) {
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	templates, err := m.FetchTemplates(ctx)
	if err != nil {
		return nil, err
	}
	return database.RankByCosine(templates, vector, k), nil
}

// Recorder is an in-memory implementation of database.AttendanceStore
type Recorder struct {
	mu      sync.RWMutex
	records []database.AttendanceRecord
	nextID  int64

	// Error injection. With FailTimes > 0 RecordError is returned that many times
	// and then cleared; otherwise it is returned on every call.
	RecordError error
	FailTimes   int
	LastError   error
	ListError   error

	// Calls counts RecordAttendance invocations, including failed ones
	Calls int
}

// NewRecorder creates an empty mock recorder
func NewRecorder() *Recorder {
	return &Recorder{nextID: 1}
}

// RecordAttendance stores a record
func (m *Recorder) RecordAttendance(ctx context.Context, rec database.AttendanceRecord) (*database.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.RecordError != nil {
		err := m.RecordError
		if m.FailTimes > 0 {
			m.FailTimes--
			if m.FailTimes == 0 {
				m.RecordError = nil
			}
		}
		return nil, err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, rec)
	return &rec, nil
}

// LastAttendance returns the newest record for the identity and event
func (m *Recorder) LastAttendance(ctx context.Context, identityID, eventRef string) (*database.AttendanceRecord, error) {
	if m.LastError != nil {
		return nil, m.LastError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *database.AttendanceRecord
	for i := range m.records {
		r := m.records[i]
		if r.IdentityID != identityID || r.EventRef != eventRef {
			continue
		}
		if last == nil || !r.RecordedAt.Before(last.RecordedAt) {
			last = &r
		}
	}
	return last, nil
}

// ListAttendance returns matching records, newest first
func (m *Recorder) ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.AttendanceRecord
	for _, r := range m.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b database.AttendanceRecord) int {
		if c := b.RecordedAt.Compare(a.RecordedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountAttendance returns the number of stored records
func (m *Recorder) CountAttendance(ctx context.Context) (int, error) {
	if m.ListError != nil {
		return 0, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Records returns a copy of all stored records in insertion order
func (m *Recorder) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// CountByIdentities returns per-identity record counts
func (m *Recorder) CountByIdentities(ctx context.Context, identityIDs []string) (map[string]int, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(identityIDs))
	for _, r := range m.records {
		if slices.Contains(identityIDs, r.IdentityID) {
			counts[r.IdentityID]++
		}
	}
	return counts, nil
}
