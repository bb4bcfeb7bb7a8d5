package database

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackendNotInitialized is returned by the Get* functions before a backend registered itself.
var ErrBackendNotInitialized = errors.New("database backend not initialized: DATABASE_URL or SQLITE_PATH is required")

// IndexRebuilder is implemented by repositories that keep an in-memory template index
type IndexRebuilder interface {
	// RebuildIndex rebuilds the index from the gallery
	RebuildIndex(ctx context.Context) error
	// IndexCount returns the number of indexed templates
	IndexCount() int
	// SaveIndex persists the index (if a path is configured)
	SaveIndex() error
}

var (
	backendName        string
	galleryWriter      func() GalleryWriter
	attendanceStore    func() AttendanceStore
	templateRebuilder  IndexRebuilder // Singleton for template index rebuilding
	backendInitialized bool
)

// RegisterBackend registers repository constructors.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(name string, gallery func() GalleryWriter, attendance func() AttendanceStore) {
	backendName = name
	galleryWriter = gallery
	attendanceStore = attendance
	backendInitialized = true
}

// ResetBackend forgets the registered backend.
func ResetBackend() {
	backendName = ""
	galleryWriter = nil
	attendanceStore = nil
	templateRebuilder = nil
	backendInitialized = false
}

// RegisterIndexRebuilder registers the template index rebuilder.
func RegisterIndexRebuilder(rebuilder IndexRebuilder) {
	templateRebuilder = rebuilder
}

// GetIndexRebuilder returns the registered index rebuilder, or nil if not registered.
func GetIndexRebuilder() IndexRebuilder {
	return templateRebuilder
}

// IsInitialized returns whether a backend has been registered.
func IsInitialized() bool {
	return backendInitialized
}

// BackendName returns the registered backend name ("postgres", "sqlite").
func BackendName() string {
	return backendName
}

// GetGalleryReader returns a GalleryReader from the registered backend
func GetGalleryReader(ctx context.Context) (GalleryReader, error) {
	return GetGalleryWriter(ctx)
}

// GetGalleryWriter returns a GalleryWriter from the registered backend
func GetGalleryWriter(ctx context.Context) (GalleryWriter, error) {
	if !backendInitialized {
		return nil, ErrBackendNotInitialized
	}
	if galleryWriter == nil {
		return nil, fmt.Errorf("%s gallery repository not registered", backendName)
	}
	return galleryWriter(), nil
}

// GetAttendanceRecorder returns an AttendanceRecorder from the registered backend
func GetAttendanceRecorder(ctx context.Context) (AttendanceRecorder, error) {
	return GetAttendanceStore(ctx)
}

// GetAttendanceReader returns an AttendanceReader from the registered backend
func GetAttendanceReader(ctx context.Context) (AttendanceReader, error) {
	return GetAttendanceStore(ctx)
}

// GetAttendanceStore returns the attendance repository from the registered backend
func GetAttendanceStore(ctx context.Context) (AttendanceStore, error) {
	if !backendInitialized {
		return nil, ErrBackendNotInitialized
	}
	if attendanceStore == nil {
		return nil, fmt.Errorf("%s attendance repository not registered", backendName)
	}
	return attendanceStore(), nil
}
