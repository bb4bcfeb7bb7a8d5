package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/kozaktomas/face-checkin/internal/database"
)

func toRecord(r attendanceRow) database.AttendanceRecord {
	return database.AttendanceRecord{
		ID:         r.ID,
		IdentityID: r.IdentityID,
		Name:       r.Name,
		EventRef:   r.EventRef,
		Score:      r.Score,
		Metric:     r.Metric,
		RecordedAt: r.RecordedAt,
	}
}

// RecordAttendance stores a record. Times are stored in UTC.
func (s *Store) RecordAttendance(ctx context.Context, rec database.AttendanceRecord) (*database.AttendanceRecord, error) {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	row := attendanceRow{
		IdentityID: rec.IdentityID,
		Name:       rec.Name,
		EventRef:   rec.EventRef,
		Score:      rec.Score,
		Metric:     rec.Metric,
		RecordedAt: rec.RecordedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}
	out := toRecord(row)
	return &out, nil
}

// LastAttendance returns the newest record for the identity and event, or nil.
func (s *Store) LastAttendance(ctx context.Context, identityID, eventRef string) (*database.AttendanceRecord, error) {
	var row attendanceRow
	err := s.db.WithContext(ctx).
		Where("identity_id = ? AND event_ref = ?", identityID, eventRef).
		Order("recorded_at DESC, id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last attendance: %w", err)
	}
	out := toRecord(row)
	return &out, nil
}

// ListAttendance returns records matching the filter, newest first.
func (s *Store) ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	q := s.db.WithContext(ctx).Model(&attendanceRow{})
	if filter.IdentityID != "" {
		q = q.Where("identity_id = ?", filter.IdentityID)
	}
	if filter.EventRef != "" {
		q = q.Where("event_ref = ?", filter.EventRef)
	}
	if !filter.Since.IsZero() {
		q = q.Where("recorded_at >= ?", filter.Since.UTC())
	}
	q = q.Order("recorded_at DESC, id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite only accepts OFFSET after LIMIT.
			q = q.Limit(math.MaxInt32)
		}
		q = q.Offset(filter.Offset)
	}

	var rows []attendanceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	records := make([]database.AttendanceRecord, len(rows))
	for i, r := range rows {
		records[i] = toRecord(r)
	}
	return records, nil
}

// CountAttendance returns the number of stored records.
func (s *Store) CountAttendance(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&attendanceRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return int(n), nil
}

// CountByIdentities returns attendance counts for the given identities.
func (s *Store) CountByIdentities(ctx context.Context, identityIDs []string) (map[string]int, error) {
	var rows []struct {
		IdentityID string
		N          int
	}
	err := s.db.WithContext(ctx).Model(&attendanceRow{}).
		Select("identity_id, COUNT(*) AS n").
		Where("identity_id IN ?", identityIDs).
		Group("identity_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count attendance by identity: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.IdentityID] = r.N
	}
	return counts, nil
}
