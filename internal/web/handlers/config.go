package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config  *config.Config
	service *checkin.Service
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, svc *checkin.Service) *ConfigHandler {
	return &ConfigHandler{
		config:  cfg,
		service: svc,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Thresholds      config.Thresholds `json:"thresholds"`
	Profiles        []string          `json:"profiles"`
	Backend         string            `json:"backend,omitempty"`
	DatabaseReady   bool              `json:"database_ready"`
	DetectorEnabled bool              `json:"detector_enabled"`
	NotifyEnabled   bool              `json:"notify_enabled"`
	Languages       []string          `json:"languages"`
	DedupWindowSecs float64           `json:"dedup_window_seconds"`
}

// Get returns the thresholds in effect and the enabled integrations
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	response := ConfigResponse{
		Thresholds:      h.service.Thresholds(),
		Profiles:        config.Profiles(),
		Backend:         database.BackendName(),
		DatabaseReady:   database.IsInitialized(),
		DetectorEnabled: h.config.Detector.URL != "",
		NotifyEnabled:   h.config.MQTT.Enabled(),
		Languages:       h.service.Guidance().Languages(),
		DedupWindowSecs: h.config.Attendance.DedupWindow.Seconds(),
	}

	respondJSON(w, http.StatusOK, response)
}
