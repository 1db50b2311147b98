package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/hlsabr/internal/models"
)

func setupFetchRecordTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.FetchRecord{}))
	return db
}

func newRecord(session string, seq int, outcome string) *models.FetchRecord {
	return &models.FetchRecord{
		SessionID:      session,
		Sequence:       seq,
		VariantBitrate: 800000,
		URL:            fmt.Sprintf("http://cdn.test/800k/%d.ts", seq),
		Bytes:          1000,
		Samples:        3,
		Outcome:        outcome,
	}
}

func TestFetchRecordRepo_Create(t *testing.T) {
	repo := NewFetchRecordRepository(setupFetchRecordTestDB(t))
	ctx := context.Background()

	rec := newRecord("s1", 10, models.OutcomeSuccess)
	require.NoError(t, repo.Create(ctx, rec))
	assert.False(t, rec.ID.IsZero())

	found, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.URL, found.URL)
	assert.Equal(t, rec.Sequence, found.Sequence)
	assert.Equal(t, models.OutcomeSuccess, found.Outcome)

	t.Run("invalid record", func(t *testing.T) {
		bad := newRecord("", 11, models.OutcomeSuccess)
		err := repo.Create(ctx, bad)
		assert.ErrorIs(t, err, models.ErrSessionIDRequired)
	})

	t.Run("missing record", func(t *testing.T) {
		found, err := repo.GetByID(ctx, models.NewULID())
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestFetchRecordRepo_CreateBatch(t *testing.T) {
	repo := NewFetchRecordRepository(setupFetchRecordTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.CreateBatch(ctx, nil))

	batch := []*models.FetchRecord{
		newRecord("s1", 10, models.OutcomeSuccess),
		newRecord("s1", 11, models.OutcomeSuccess),
	}
	require.NoError(t, repo.CreateBatch(ctx, batch))

	records, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	bad := []*models.FetchRecord{newRecord("s1", 12, "bogus")}
	assert.ErrorIs(t, repo.CreateBatch(ctx, bad), models.ErrInvalidOutcome)
}

func TestFetchRecordRepo_ListRecent(t *testing.T) {
	repo := NewFetchRecordRepository(setupFetchRecordTestDB(t))
	ctx := context.Background()

	for seq := 10; seq < 15; seq++ {
		require.NoError(t, repo.Create(ctx, newRecord("s1", seq, models.OutcomeSuccess)))
	}

	records, err := repo.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int{14, 13, 12}, sequences(records))

	all, err := repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestFetchRecordRepo_ListBySession(t *testing.T) {
	repo := NewFetchRecordRepository(setupFetchRecordTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRecord("s1", 10, models.OutcomeSuccess)))
	require.NoError(t, repo.Create(ctx, newRecord("s2", 40, models.OutcomeSuccess)))
	require.NoError(t, repo.Create(ctx, newRecord("s1", 11, models.OutcomeTransportError)))
	require.NoError(t, repo.Create(ctx, newRecord("s1", 11, models.OutcomeSuccess)))

	records, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 11}, sequences(records))

	none, err := repo.ListBySession(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFetchRecordRepo_CountByOutcome(t *testing.T) {
	repo := NewFetchRecordRepository(setupFetchRecordTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRecord("s1", 10, models.OutcomeSuccess)))
	require.NoError(t, repo.Create(ctx, newRecord("s1", 11, models.OutcomeParseError)))
	require.NoError(t, repo.Create(ctx, newRecord("s1", 12, models.OutcomeSuccess)))
	require.NoError(t, repo.Create(ctx, newRecord("s2", 1, models.OutcomeCancelled)))

	counts, err := repo.CountByOutcome(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []OutcomeCount{
		{Outcome: models.OutcomeCancelled, Count: 1},
		{Outcome: models.OutcomeParseError, Count: 1},
		{Outcome: models.OutcomeSuccess, Count: 2},
	}, counts)

	counts, err = repo.CountByOutcome(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, []OutcomeCount{{Outcome: models.OutcomeCancelled, Count: 1}}, counts)
}

func TestFetchRecordRepo_Sessions(t *testing.T) {
	repo := NewFetchRecordRepository(setupFetchRecordTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRecord("s1", 10, models.OutcomeSuccess)))
	require.NoError(t, repo.Create(ctx, newRecord("s1", 11, models.OutcomeSuccess)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, repo.Create(ctx, newRecord("s2", 40, models.OutcomeSuccess)))

	summaries, err := repo.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "s2", summaries[0].SessionID)
	assert.Equal(t, int64(1), summaries[0].Fetches)

	assert.Equal(t, "s1", summaries[1].SessionID)
	assert.Equal(t, int64(2), summaries[1].Fetches)
	assert.Equal(t, int64(2000), summaries[1].Bytes)
	assert.False(t, summaries[1].FirstAt.IsZero())
	assert.False(t, summaries[1].LastAt.Before(summaries[1].FirstAt))
}

func TestFetchRecordRepo_DeleteOlderThan(t *testing.T) {
	db := setupFetchRecordTestDB(t)
	repo := NewFetchRecordRepository(db)
	ctx := context.Background()

	old := newRecord("s1", 10, models.OutcomeSuccess)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, newRecord("s1", 11, models.OutcomeSuccess)))

	deleted, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{11}, sequences(remaining))
}

func sequences(records []*models.FetchRecord) []int {
	out := make([]int, 0, len(records))
	for _, r := range records {
		out = append(out, r.Sequence)
	}
	return out
}
