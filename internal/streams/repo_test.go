package streams

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/amaldonado/streamlane-backend/pkg/db/models"
	"github.com/amaldonado/streamlane-backend/pkg/enums"
)

func setupStreamsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS streams (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'live',
  started_at DATETIME NOT NULL,
  ended_at DATETIME,
  duration_seconds INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func seedStream(t *testing.T, db *gorm.DB, userID uuid.UUID, status enums.StreamStatus, startedAt time.Time) *models.Stream {
	t.Helper()
	stream := &models.Stream{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     "stream " + startedAt.Format(time.RFC3339),
		Status:    status,
		StartedAt: startedAt,
		CreatedAt: startedAt,
		UpdatedAt: startedAt,
	}
	require.NoError(t, db.Create(stream).Error)
	return stream
}

func TestRepoCountActiveStreams(t *testing.T) {
	db := setupStreamsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedStream(t, db, userID, enums.StreamStatusLive, base)
	seedStream(t, db, userID, enums.StreamStatusLive, base.Add(time.Hour))
	seedStream(t, db, userID, enums.StreamStatusStopped, base.Add(2*time.Hour))
	seedStream(t, db, uuid.New(), enums.StreamStatusLive, base)

	count, err := repo.CountActiveStreams(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRepoCountStreamsStartedSince(t *testing.T) {
	db := setupStreamsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	periodStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedStream(t, db, userID, enums.StreamStatusStopped, periodStart.Add(-time.Hour))
	seedStream(t, db, userID, enums.StreamStatusStopped, periodStart)
	seedStream(t, db, userID, enums.StreamStatusLive, periodStart.Add(time.Hour))

	count, err := repo.CountStreamsStartedSince(ctx, userID, periodStart)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRepoListPagesNewestFirst(t *testing.T) {
	db := setupStreamsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedStream(t, db, userID, enums.StreamStatusStopped, base.Add(time.Duration(i)*time.Hour))
	}

	first, cursor, err := repo.List(ctx, ListParams{UserID: userID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, cursor)
	assert.True(t, first[0].CreatedAt.After(first[2].CreatedAt))

	second, cursor, err := repo.List(ctx, ListParams{UserID: userID, Limit: 3, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Nil(t, cursor)

	seen := map[uuid.UUID]bool{}
	for _, s := range append(first, second...) {
		assert.False(t, seen[s.ID], "duplicate row across pages")
		seen[s.ID] = true
	}
}

func TestRepoListFiltersByStatus(t *testing.T) {
	db := setupStreamsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedStream(t, db, userID, enums.StreamStatusLive, base)
	seedStream(t, db, userID, enums.StreamStatusStopped, base.Add(time.Hour))

	live := enums.StreamStatusLive
	rows, _, err := repo.List(ctx, ListParams{UserID: userID, Status: &live})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.StreamStatusLive, rows[0].Status)
}

func TestRepoFindByIDMissing(t *testing.T) {
	db := setupStreamsTestDB(t)
	repo := NewRepository(db)

	stream, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, stream)
}
