package streams

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/amaldonado/streamlane-backend/internal/billing"
	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
	pkgerrors "github.com/amaldonado/streamlane-backend/pkg/errors"
	"github.com/amaldonado/streamlane-backend/pkg/logger"
	"github.com/amaldonado/streamlane-backend/pkg/pagination"
)

type usageGuard interface {
	CheckStreamStart(ctx context.Context, userID uuid.UUID) error
	CheckProcessingBudget(ctx context.Context, userID uuid.UUID, additionalSeconds int64) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages the stream lifecycle and keeps usage accounting in step.
type Service interface {
	Start(ctx context.Context, userID uuid.UUID, req StartStreamRequest) (*StreamDTO, error)
	Stop(ctx context.Context, userID, streamID uuid.UUID) (*StreamDTO, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params, status *enums.StreamStatus) (*ListStreamsResponse, error)
}

// ServiceParams groups dependencies for the streams service.
type ServiceParams struct {
	Repo              Repository
	BillingRepo       billing.Repository
	Guard             usageGuard
	TransactionRunner txRunner
	Logger            *logger.Logger
	Clock             func() time.Time
}

type service struct {
	repo    Repository
	billing billing.Repository
	guard   usageGuard
	tx      txRunner
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the streams service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("streams repository is required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository is required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("usage guard is required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:    params.Repo,
		billing: params.BillingRepo,
		guard:   params.Guard,
		tx:      params.TransactionRunner,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Start opens a new live stream once the usage guard clears it.
func (s *service) Start(ctx context.Context, userID uuid.UUID, req StartStreamRequest) (*StreamDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}

	ctx = s.logg.WithUserID(ctx, userID.String())
	if err := s.guard.CheckStreamStart(ctx, userID); err != nil {
		return nil, err
	}
	// Seconds are only charged at stop, so the check is against what has
	// already accrued this period.
	if err := s.guard.CheckProcessingBudget(ctx, userID, 0); err != nil {
		return nil, err
	}

	stream := &models.Stream{
		UserID:    userID,
		Title:     title,
		Status:    enums.StreamStatusLive,
		StartedAt: s.now(),
	}
	if err := s.repo.Create(ctx, stream); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create stream")
	}

	s.logg.Info(ctx, "stream started")
	dto := FromModel(stream)
	return &dto, nil
}

// Stop closes a live stream and folds its duration into the subscription's
// processed-seconds counter in the same transaction.
func (s *service) Stop(ctx context.Context, userID, streamID uuid.UUID) (*StreamDTO, error) {
	if userID == uuid.Nil || streamID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and stream id are required")
	}

	ctx = s.logg.WithUserID(ctx, userID.String())

	stream, err := s.repo.FindByID(ctx, streamID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup stream")
	}
	if stream == nil || stream.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stream not found")
	}
	if stream.Status != enums.StreamStatusLive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "stream is not live")
	}

	endedAt := s.now()
	duration := int64(endedAt.Sub(stream.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		stream.Status = enums.StreamStatusStopped
		stream.EndedAt = &endedAt
		stream.DurationSeconds = duration
		if err := s.repo.WithTx(tx).Update(ctx, stream); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update stream")
		}

		billingRepo := s.billing.WithTx(tx)
		sub, err := billingRepo.FindActiveSubscriptionForUpdate(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock subscription")
		}
		if sub == nil {
			// The stream row still closes; there is just no budget to charge.
			return nil
		}
		sub.TotalSecondsProcessed += duration
		if err := billingRepo.UpdateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription usage")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "stream stopped")
	dto := FromModel(stream)
	return &dto, nil
}

// List pages the user's streams newest first.
func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params, status *enums.StreamStatus) (*ListStreamsResponse, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.List(ctx, ListParams{
		UserID: userID,
		Limit:  params.Limit,
		Cursor: cursor,
		Status: status,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list streams")
	}

	resp := &ListStreamsResponse{Streams: make([]StreamDTO, 0, len(rows))}
	for i := range rows {
		resp.Streams = append(resp.Streams, FromModel(&rows[i]))
	}
	if next != nil {
		encoded := pagination.EncodeCursor(*next)
		resp.NextCursor = &encoded
	}
	return resp, nil
}
