// Package notify publishes attendance events to downstream consumers.
package notify

import (
	"context"
	"time"

	"github.com/kozaktomas/face-checkin/internal/database"
)

// AttendanceEvent is the payload published after a successful check-in.
type AttendanceEvent struct {
	IdentityID string    `json:"identity_id"`
	Name       string    `json:"name"`
	EventRef   string    `json:"event_ref,omitempty"`
	Score      float64   `json:"score"`
	Metric     string    `json:"metric"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EventFromRecord builds the event for a stored attendance record.
func EventFromRecord(rec database.AttendanceRecord) AttendanceEvent {
	return AttendanceEvent{
		IdentityID: rec.IdentityID,
		Name:       rec.Name,
		EventRef:   rec.EventRef,
		Score:      rec.Score,
		Metric:     rec.Metric,
		RecordedAt: rec.RecordedAt,
	}
}

// Publisher delivers attendance events. Publishing is best effort: callers log
// failures and never undo the record.
type Publisher interface {
	Publish(ctx context.Context, event AttendanceEvent) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, AttendanceEvent) error { return nil }
func (Nop) Close()                                          {}
