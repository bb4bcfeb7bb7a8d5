package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/database"
)

// TemplateRemover drops deleted templates from an in-memory index
type TemplateRemover interface {
	Delete(ids ...string)
}

// GalleryHandler handles gallery endpoints
type GalleryHandler struct {
	index TemplateRemover
}

// NewGalleryHandler creates a new gallery handler. The index is optional.
func NewGalleryHandler(index TemplateRemover) *GalleryHandler {
	return &GalleryHandler{index: index}
}

// IdentityResponse represents an enrolled identity
type IdentityResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	TemplateCount int       `json:"template_count"`
	Attendance    *int      `json:"attendance,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TemplateResponse represents one enrolled template without its vector
type TemplateResponse struct {
	ID        string    `json:"id"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityDetailResponse is an identity with its templates
type IdentityDetailResponse struct {
	IdentityResponse
	Templates []TemplateResponse `json:"templates"`
}

func identityResponse(i database.Identity) IdentityResponse {
	return IdentityResponse{
		ID:            i.ID,
		Name:          i.Name,
		TemplateCount: i.TemplateCount,
		CreatedAt:     i.CreatedAt,
	}
}

// List returns all identities, with attendance counts when the store supports them
func (h *GalleryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gallery, err := database.GetGalleryReader(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	identities, err := gallery.ListIdentities(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result := make([]IdentityResponse, len(identities))
	ids := make([]string, len(identities))
	for i, identity := range identities {
		result[i] = identityResponse(identity)
		ids[i] = identity.ID
	}

	if store, err := database.GetAttendanceStore(ctx); err == nil {
		if counter, ok := store.(database.AttendanceCounter); ok && len(ids) > 0 {
			counts, err := counter.CountByIdentities(ctx, ids)
			if err != nil {
				log.WithError(err).Warn("Failed to count attendance per identity")
			} else {
				for i := range result {
					n := counts[result[i].ID]
					result[i].Attendance = &n
				}
			}
		}
	}

	respondJSON(w, http.StatusOK, result)
}

// Get returns one identity with its templates
func (h *GalleryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "identityId")

	gallery, err := database.GetGalleryReader(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	identity, err := gallery.GetIdentity(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	templates, err := gallery.FetchTemplates(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := IdentityDetailResponse{
		IdentityResponse: identityResponse(*identity),
		Templates:        []TemplateResponse{},
	}
	for _, t := range templates {
		if t.IdentityID == id {
			resp.Templates = append(resp.Templates, TemplateResponse{ID: t.ID, Dim: t.Dim, CreatedAt: t.CreatedAt})
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Delete removes an identity and its templates
func (h *GalleryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "identityId")

	gallery, err := database.GetGalleryWriter(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	deleted, err := gallery.DeleteIdentity(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if h.index != nil && len(deleted) > 0 {
		h.index.Delete(deleted...)
	}

	log.WithFields(log.Fields{
		"identity":  sanitizeForLog(id),
		"templates": len(deleted),
	}).Info("Deleted identity")

	respondJSON(w, http.StatusOK, map[string]any{
		"id":                id,
		"deleted_templates": deleted,
	})
}
