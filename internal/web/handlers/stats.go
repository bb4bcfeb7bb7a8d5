package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/database"
)

const statsCacheTTL = 30 * time.Second

// storeCounts are the slow counters read from the database
type storeCounts struct {
	GallerySize     int `json:"gallery_size"`
	AttendanceCount int `json:"attendance_count"`
}

// statsCache holds cached store counts with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *storeCounts
	expiresAt time.Time
}

func (c *statsCache) get() (*storeCounts, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *storeCounts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	service  *checkin.Service
	registry *SessionRegistry
	cache    statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(svc *checkin.Service, registry *SessionRegistry) *StatsHandler {
	return &StatsHandler{
		service:  svc,
		registry: registry,
	}
}

// InvalidateCache clears the cached counts so the next request reads the store
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	checkin.StatsSnapshot
	storeCounts
	ActiveSessions int `json:"active_sessions"`
	IndexSize      int `json:"index_size"`
}

// fetchStoreCounts reads gallery and attendance sizes; unavailable stores count as zero
func fetchStoreCounts(ctx context.Context) *storeCounts {
	counts := &storeCounts{}
	if gallery, err := database.GetGalleryReader(ctx); err == nil {
		if n, err := gallery.CountTemplates(ctx); err == nil {
			counts.GallerySize = n
		} else {
			log.WithError(err).Warn("Failed to count templates")
		}
	}
	if store, err := database.GetAttendanceStore(ctx); err == nil {
		if n, err := store.CountAttendance(ctx); err == nil {
			counts.AttendanceCount = n
		} else {
			log.WithError(err).Warn("Failed to count attendance")
		}
	}
	return counts
}

// Get returns service counters and store sizes
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	counts, ok := h.cache.get()
	if !ok {
		counts = fetchStoreCounts(r.Context())
		h.cache.set(counts)
	}

	stats := StatsResponse{
		StatsSnapshot:  h.service.Stats(),
		storeCounts:    *counts,
		ActiveSessions: h.registry.Len(),
	}
	if rebuilder := database.GetIndexRebuilder(); rebuilder != nil {
		stats.IndexSize = rebuilder.IndexCount()
	}

	respondJSON(w, http.StatusOK, stats)
}
