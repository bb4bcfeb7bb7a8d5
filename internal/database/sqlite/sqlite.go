// Package sqlite is a single-node storage backend for the gallery and
// attendance records, built on gorm with a pure Go SQLite driver.
package sqlite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite" // Pure Go
	"github.com/pgvector/pgvector-go"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"

	"github.com/kozaktomas/face-checkin/internal/database"
)

type identityRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	Name           string `gorm:"not null"`
	NameNormalized string `gorm:"index;not null"`
	CreatedAt      time.Time
}

func (identityRow) TableName() string { return "identities" }

// Vectors are stored in pgvector's text form ("[1,2,3]").
type templateRow struct {
	ID         string          `gorm:"primaryKey;size:64"`
	IdentityID string          `gorm:"index;not null;size:64"`
	Identity   identityRow     `gorm:"foreignKey:IdentityID"`
	Vector     pgvector.Vector `gorm:"type:text;not null"`
	Dim        int
	CreatedAt  time.Time
}

func (templateRow) TableName() string { return "templates" }

type attendanceRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	IdentityID string    `gorm:"index:idx_attendance_identity_event;not null"`
	Name       string
	EventRef   string    `gorm:"index:idx_attendance_identity_event"`
	Score      float64
	Metric     string
	RecordedAt time.Time `gorm:"index"`
}

func (attendanceRow) TableName() string { return "attendance" }

// Store implements the gallery and attendance repositories on SQLite.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database file and migrates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Route gorm logging through logrus.
	gormLogger := gormlog.New(
		log.StandardLogger(),
		gormlog.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlog.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&identityRow{}, &templateRow{}, &attendanceRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

// Register registers the store as the active storage backend.
func Register(s *Store) {
	database.RegisterBackend("sqlite",
		func() database.GalleryWriter { return s },
		func() database.AttendanceStore { return s },
	)
}

// Initialize opens the database at path and registers it.
func Initialize(path string) (*Store, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	Register(s)
	log.WithFields(log.Fields{"backend": "sqlite", "path": path}).Info("Database initialized")
	return s, nil
}
