package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/amaldonado/streamlane-backend/pkg/enums"
)

// Stream records a single streaming/recording job for usage accounting.
type Stream struct {
	ID              uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index"`
	Title           string             `gorm:"column:title;not null"`
	Status          enums.StreamStatus `gorm:"column:status;type:stream_status;not null;default:'live'"`
	StartedAt       time.Time          `gorm:"column:started_at;not null"`
	EndedAt         *time.Time         `gorm:"column:ended_at"`
	DurationSeconds int64              `gorm:"column:duration_seconds;not null;default:0"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
