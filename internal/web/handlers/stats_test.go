package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-checkin/internal/database"
)

func TestStatsHandler_Get(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gallery.AddTemplate("id-a", "Alena", "t-1", frontalVector())
	env.gallery.AddTemplate("id-b", "Bohumil", "t-2", frontalVector())
	_, _ = env.recorder.RecordAttendance(context.Background(), database.AttendanceRecord{IdentityID: "id-a"})
	env.createSession(t, map[string]any{})

	rec := env.do(t, http.MethodGet, "/api/v1/stats", nil)
	assertStatusCode(t, rec, http.StatusOK)

	var result map[string]any
	parseJSONResponse(t, rec, &result)

	expected := map[string]float64{
		"sessions":         1,
		"active_sessions":  1,
		"gallery_size":     2,
		"attendance_count": 1,
		"captures":         0,
	}
	for key, want := range expected {
		got, ok := result[key].(float64)
		if !ok {
			t.Errorf("missing %s in %v", key, result)
			continue
		}
		if got != want {
			t.Errorf("%s: expected %v, got %v", key, want, got)
		}
	}
}

func TestStatsHandler_CachesStoreCounts(t *testing.T) {
	env := newTestEnv(t, nil)
	h := NewStatsHandler(env.service, env.registry)

	get := func() StatsResponse {
		t.Helper()
		rec := httptest.NewRecorder()
		h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		assertStatusCode(t, rec, http.StatusOK)
		var out StatsResponse
		parseJSONResponse(t, rec, &out)
		return out
	}

	if got := get().GallerySize; got != 0 {
		t.Fatalf("expected empty gallery, got %d", got)
	}
	env.gallery.AddTemplate("id-a", "Alena", "t-1", frontalVector())
	if got := get().GallerySize; got != 0 {
		t.Errorf("expected cached gallery size 0, got %d", got)
	}
	h.InvalidateCache()
	if got := get().GallerySize; got != 1 {
		t.Errorf("expected refreshed gallery size 1, got %d", got)
	}
}
