package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kozaktomas/face-checkin/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

const attendanceColumns = "id, identity_id, name, event_ref, score, metric, recorded_at"

func scanAttendance(scanner interface{ Scan(...any) error }) (database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	err := scanner.Scan(&rec.ID, &rec.IdentityID, &rec.Name, &rec.EventRef, &rec.Score, &rec.Metric, &rec.RecordedAt)
	return rec, err
}

// RecordAttendance stores a record. A zero RecordedAt uses the database clock.
func (r *AttendanceRepository) RecordAttendance(
	ctx context.Context, rec database.AttendanceRecord,
) (*database.AttendanceRecord, error) {
	var recordedAt any
	if !rec.RecordedAt.IsZero() {
		recordedAt = rec.RecordedAt
	}

	stored, err := scanAttendance(r.pool.QueryRow(ctx, `
		INSERT INTO attendance (identity_id, name, event_ref, score, metric, recorded_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6::timestamptz, NOW()))
		RETURNING `+attendanceColumns,
		rec.IdentityID, rec.Name, rec.EventRef, rec.Score, rec.Metric, recordedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}
	return &stored, nil
}

// LastAttendance returns the newest record for the identity and event.
func (r *AttendanceRepository) LastAttendance(
	ctx context.Context, identityID, eventRef string,
) (*database.AttendanceRecord, error) {
	rec, err := scanAttendance(r.pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE identity_id = $1 AND event_ref = $2
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, identityID, eventRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last attendance: %w", err)
	}
	return &rec, nil
}

// ListAttendance returns records matching the filter, newest first.
func (r *AttendanceRepository) ListAttendance(
	ctx context.Context, filter database.AttendanceFilter,
) ([]database.AttendanceRecord, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.IdentityID != "" {
		add("identity_id = $%d", filter.IdentityID)
	}
	if filter.EventRef != "" {
		add("event_ref = $%d", filter.EventRef)
	}
	if !filter.Since.IsZero() {
		add("recorded_at >= $%d", filter.Since)
	}

	query := "SELECT " + attendanceColumns + " FROM attendance"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}

// CountAttendance returns the number of stored records.
func (r *AttendanceRepository) CountAttendance(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance").Scan(&count); err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return count, nil
}

// CountByIdentities returns attendance counts for the given identities.
func (r *AttendanceRepository) CountByIdentities(ctx context.Context, identityIDs []string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT identity_id, COUNT(*)
		FROM attendance
		WHERE identity_id = ANY($1)
		GROUP BY identity_id
	`, pq.Array(identityIDs))
	if err != nil {
		return nil, fmt.Errorf("count attendance by identity: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(identityIDs))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan attendance count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance counts: %w", err)
	}
	return counts, nil
}
