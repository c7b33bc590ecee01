package streams

import (
	"time"

	"github.com/google/uuid"

	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
)

// StartStreamRequest is the payload accepted by the start endpoint.
type StartStreamRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

// StreamDTO is the transport shape for a stream row.
type StreamDTO struct {
	ID              uuid.UUID          `json:"id"`
	Title           string             `json:"title"`
	Status          enums.StreamStatus `json:"status"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
	DurationSeconds int64              `json:"duration_seconds"`
	CreatedAt       time.Time          `json:"created_at"`
}

// ListStreamsResponse pages stream rows with an opaque cursor.
type ListStreamsResponse struct {
	Streams    []StreamDTO `json:"streams"`
	NextCursor *string     `json:"next_cursor,omitempty"`
}

// FromModel converts a stream row into its transport shape.
func FromModel(s *models.Stream) StreamDTO {
	return StreamDTO{
		ID:              s.ID,
		Title:           s.Title,
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds,
		CreatedAt:       s.CreatedAt,
	}
}
