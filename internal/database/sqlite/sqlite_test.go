package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-checkin/internal/database"
)

// Compile-time interface checks.
var (
	_ database.GalleryWriter     = (*Store)(nil)
	_ database.AttendanceStore   = (*Store)(nil)
	_ database.AttendanceCounter = (*Store)(nil)
	_ database.TemplateSearcher  = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "checkin.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Gallery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Enroll(ctx, database.Identity{ID: "jiri", Name: "Jiří Dvořák"},
		database.EnrolledTemplate{ID: "jiri-1", Vector: []float32{1, 0, 0.5}})
	if err != nil {
		t.Fatalf("Failed to enroll: %v", err)
	}
	if first.Name != "Jiří Dvořák" || first.Dim != 3 {
		t.Errorf("Unexpected template: %+v", first)
	}

	second, err := s.Enroll(ctx, database.Identity{ID: "jiri", Name: "Someone Else"},
		database.EnrolledTemplate{Vector: []float32{0.9, 0.1, 0.5}})
	if err != nil {
		t.Fatalf("Failed to enroll second template: %v", err)
	}
	if second.ID == "" || second.Name != "Jiří Dvořák" {
		t.Errorf("Expected generated ID and kept name, got %+v", second)
	}

	if _, err := s.Enroll(ctx, database.Identity{ID: "eva", Name: "Eva"},
		database.EnrolledTemplate{ID: "eva-1", Vector: []float32{-1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enroll(ctx, database.Identity{}, database.EnrolledTemplate{Vector: []float32{1}}); err == nil {
		t.Error("Expected error without identity id")
	}

	templates, err := s.FetchTemplates(ctx)
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(templates) != 3 {
		t.Fatalf("Expected 3 templates, got %d", len(templates))
	}
	if !slices.IsSortedFunc(templates, func(a, b database.EnrolledTemplate) int { return strings.Compare(a.ID, b.ID) }) {
		t.Error("Expected templates ordered by ID")
	}
	for _, tmpl := range templates {
		switch tmpl.ID {
		case "eva-1":
			if tmpl.Name != "Eva" {
				t.Errorf("Expected cached name Eva, got %q", tmpl.Name)
			}
		case "jiri-1":
			if !slices.Equal(tmpl.Vector, []float32{1, 0, 0.5}) {
				t.Errorf("Expected vector round trip, got %v", tmpl.Vector)
			}
		}
	}

	identity, err := s.FindIdentityByName(ctx, "jiri dvorak")
	if err != nil {
		t.Fatalf("Failed to find by name: %v", err)
	}
	if identity.ID != "jiri" || identity.TemplateCount != 2 {
		t.Errorf("Unexpected identity: %+v", identity)
	}
	if other, err := s.FindIdentityByName(ctx, "  JIŘÍ_dvořák "); err != nil || other.ID != "jiri" {
		t.Errorf("Expected lookup to fold case, diacritics and separators, got %+v (%v)", other, err)
	}

	identities, err := s.ListIdentities(ctx)
	if err != nil || len(identities) != 2 || identities[0].ID != "eva" {
		t.Errorf("Unexpected identities: %+v (%v)", identities, err)
	}

	ids, err := s.NearestTemplates(ctx, []float32{1, 0, 0.5}, 1)
	if err != nil || !slices.Equal(ids, []string{"jiri-1"}) {
		t.Errorf("Expected jiri-1 nearest, got %v (%v)", ids, err)
	}

	deleted, err := s.DeleteIdentity(ctx, "jiri")
	if err != nil || len(deleted) != 2 {
		t.Fatalf("Expected 2 deleted templates, got %v (%v)", deleted, err)
	}
	if _, err := s.GetIdentity(ctx, "jiri"); !errors.Is(err, database.ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound, got %v", err)
	}
	if _, err := s.DeleteIdentity(ctx, "jiri"); !errors.Is(err, database.ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound, got %v", err)
	}
	if n, _ := s.CountTemplates(ctx); n != 1 {
		t.Errorf("Expected 1 template left, got %d", n)
	}
}

func TestStore_Attendance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, ref := range []string{"math-101", "math-101", "bio-200"} {
		if _, err := s.RecordAttendance(ctx, database.AttendanceRecord{
			IdentityID: "eva", Name: "Eva", EventRef: ref, Score: 0.05, Metric: "mean_distance",
			RecordedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("Failed to record: %v", err)
		}
	}
	rec, err := s.RecordAttendance(ctx, database.AttendanceRecord{IdentityID: "adam", Score: 0.01, Metric: "mean_distance"})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == 0 || rec.RecordedAt.IsZero() {
		t.Errorf("Expected assigned id and time, got %+v", rec)
	}

	last, err := s.LastAttendance(ctx, "eva", "math-101")
	if err != nil || last == nil {
		t.Fatalf("Expected last record, got %v (%v)", last, err)
	}
	if !last.RecordedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("Expected newest math-101 record, got %s", last.RecordedAt)
	}
	if none, err := s.LastAttendance(ctx, "eva", "chem"); err != nil || none != nil {
		t.Errorf("Expected nil, got %+v (%v)", none, err)
	}

	tests := []struct {
		name   string
		filter database.AttendanceFilter
		want   []string
	}{
		{"identity", database.AttendanceFilter{IdentityID: "eva"}, []string{"bio-200", "math-101", "math-101"}},
		{"event", database.AttendanceFilter{EventRef: "bio-200"}, []string{"bio-200"}},
		{"since", database.AttendanceFilter{IdentityID: "eva", Since: base.Add(30 * time.Minute)}, []string{"bio-200", "math-101"}},
		{"offset only", database.AttendanceFilter{IdentityID: "eva", Offset: 2}, []string{"math-101"}},
		{"limit", database.AttendanceFilter{IdentityID: "eva", Limit: 1}, []string{"bio-200"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, err := s.ListAttendance(ctx, tc.filter)
			if err != nil {
				t.Fatalf("Failed to list: %v", err)
			}
			var got []string
			for _, r := range records {
				got = append(got, r.EventRef)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}

	counts, err := s.CountByIdentities(ctx, []string{"eva", "adam", "nobody"})
	if err != nil {
		t.Fatal(err)
	}
	if counts["eva"] != 3 || counts["adam"] != 1 || counts["nobody"] != 0 {
		t.Errorf("Unexpected counts: %v", counts)
	}
	if total, _ := s.CountAttendance(ctx); total != 4 {
		t.Errorf("Expected 4 records, got %d", total)
	}
}

func TestInitialize_RegistersBackend(t *testing.T) {
	database.ResetBackend()
	t.Cleanup(database.ResetBackend)

	s, err := Initialize(filepath.Join(t.TempDir(), "checkin.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if database.BackendName() != "sqlite" {
		t.Errorf("Expected sqlite backend, got %q", database.BackendName())
	}
	if _, err := database.GetAttendanceStore(context.Background()); err != nil {
		t.Errorf("Expected attendance store, got %v", err)
	}
}
