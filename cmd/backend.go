package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/checkin"
	"github.com/kozaktomas/face-checkin/internal/config"
	"github.com/kozaktomas/face-checkin/internal/database"
	"github.com/kozaktomas/face-checkin/internal/database/postgres"
	"github.com/kozaktomas/face-checkin/internal/database/sqlite"
	"github.com/kozaktomas/face-checkin/internal/guidance"
	"github.com/kozaktomas/face-checkin/internal/notify"
)

// nativeSearchTimeout bounds one backend nearest-template query.
const nativeSearchTimeout = 2 * time.Second

// openBackend connects the configured storage backend and registers it.
// PostgreSQL wins when both DATABASE_URL and SQLITE_PATH are set.
func openBackend(cfg *config.Config) (func(), error) {
	switch {
	case cfg.Database.URL != "":
		if err := postgres.Initialize(&cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		return func() {
			if err := postgres.GetGlobalPool().Close(); err != nil {
				log.WithError(err).Warn("Failed to close PostgreSQL pool")
			}
		}, nil
	case cfg.Database.SQLitePath != "":
		store, err := sqlite.Initialize(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		return func() {
			if err := store.Close(); err != nil {
				log.WithError(err).Warn("Failed to close SQLite database")
			}
		}, nil
	}
	return nil, database.ErrBackendNotInitialized
}

// initTemplateIndex loads the persisted HNSW index or rebuilds it from the
// gallery. A failure leaves matching on the exhaustive scan.
func initTemplateIndex(ctx context.Context, cfg *config.Config, gallery database.GalleryReader) *database.IndexedGallery {
	idx := &database.IndexedGallery{
		Index:   database.NewTemplateIndex(cfg.Thresholds.Match.Metric),
		Gallery: gallery,
		Path:    cfg.Database.HNSWIndexPath,
	}
	rebuilt, err := idx.LoadOrRebuild(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to build template index, matching will scan the whole gallery")
		return nil
	}
	database.RegisterIndexRebuilder(idx)
	log.WithFields(log.Fields{
		"templates": idx.IndexCount(),
		"rebuilt":   rebuilt,
		"path":      idx.Path,
	}).Info("Template index ready")
	return idx
}

// newService builds the check-in service on the registered backend. The
// returned func waits for in-flight events and disconnects the publisher.
func newService(ctx context.Context, cfg *config.Config, idx *database.IndexedGallery) (*checkin.Service, func(), error) {
	gallery, err := database.GetGalleryWriter(ctx)
	if err != nil {
		return nil, nil, err
	}
	recorder, err := database.GetAttendanceRecorder(ctx)
	if err != nil {
		return nil, nil, err
	}
	localizer, err := guidance.New(cfg.Language)
	if err != nil {
		return nil, nil, fmt.Errorf("loading guidance: %w", err)
	}

	var publisher notify.Publisher = notify.Nop{}
	if cfg.MQTT.Enabled() {
		mqttPublisher, err := notify.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			log.WithError(err).Warn("MQTT unavailable, attendance events will not be published")
		} else {
			publisher = mqttPublisher
		}
	}

	opts := checkin.Options{
		Thresholds:  cfg.Thresholds,
		Gallery:     gallery,
		Recorder:    recorder,
		Publisher:   publisher,
		Guidance:    localizer,
		DedupWindow: cfg.Attendance.DedupWindow,
	}
	switch searcher, native := gallery.(database.TemplateSearcher); {
	case idx == nil && native:
		opts.Index = database.SearcherIndex{Searcher: searcher, Timeout: nativeSearchTimeout}
		log.WithField("backend", database.BackendName()).Info("Using the backend's vector search as candidate prefilter")
	case idx != nil:
		opts.Index = idx.Index
		opts.OnEnrolled = func(tmpl database.EnrolledTemplate) {
			if err := idx.Index.Add(tmpl); err != nil {
				log.WithError(err).WithField("template_id", tmpl.ID).Warn("Failed to index enrolled template")
			}
		}
	}
	if opts.Index != nil && cfg.Thresholds.Match.ApproximatePrefilter() {
		log.WithFields(log.Fields{
			"metric":            cfg.Thresholds.Match.Metric,
			"index_min_gallery": cfg.Thresholds.Match.IndexMinGallery,
		}).Warn("Index prefilter ranks by vector distance, large galleries may miss the exact best template")
	}
	svc, err := checkin.NewService(opts)
	if err != nil {
		publisher.Close()
		return nil, nil, err
	}
	return svc, func() {
		svc.Close()
		publisher.Close()
	}, nil
}
