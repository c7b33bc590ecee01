package streams

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	"github.com/amaldonado/streamlane-backend/pkg/pagination"
)

// Repository exposes stream persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, stream *models.Stream) error
	Update(ctx context.Context, stream *models.Stream) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	List(ctx context.Context, params ListParams) ([]models.Stream, *pagination.Cursor, error)
	CountActiveStreams(ctx context.Context, userID uuid.UUID) (int64, error)
	CountStreamsStartedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// ListParams filters the cursor-paginated stream listing.
type ListParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
	Status *enums.StreamStatus
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a streams repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, stream *models.Stream) error {
	return r.db.WithContext(ctx).Create(stream).Error
}

func (r *repository) Update(ctx context.Context, stream *models.Stream) error {
	return r.db.WithContext(ctx).Save(stream).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	var stream models.Stream
	err := r.db.WithContext(ctx).First(&stream, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stream, nil
}

func (r *repository) List(ctx context.Context, params ListParams) ([]models.Stream, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Stream{}).Where("user_id = ?", params.UserID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var streams []models.Stream
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&streams).Error; err != nil {
		return nil, nil, err
	}

	if len(streams) > normalized {
		next := streams[normalized]
		streams = streams[:normalized]
		return streams, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return streams, nil, nil
}

func (r *repository) CountActiveStreams(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Stream{}).
		Where("user_id = ? AND status = ?", userID, enums.StreamStatusLive).
		Count(&count).Error
	return count, err
}

func (r *repository) CountStreamsStartedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Stream{}).
		Where("user_id = ? AND started_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}
