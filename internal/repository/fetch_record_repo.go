package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/hlsabr/internal/models"
)

const defaultListLimit = 50

var _ FetchRecordRepository = (*fetchRecordRepo)(nil)

// fetchRecordRepo implements FetchRecordRepository using GORM.
type fetchRecordRepo struct {
	db *gorm.DB
}

// NewFetchRecordRepository creates a new FetchRecordRepository.
func NewFetchRecordRepository(db *gorm.DB) *fetchRecordRepo {
	return &fetchRecordRepo{db: db}
}

// Create validates and stores a record.
func (r *fetchRecordRepo) Create(ctx context.Context, record *models.FetchRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validating fetch record: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating fetch record: %w", err)
	}
	return nil
}

// CreateBatch stores several records in one statement.
func (r *fetchRecordRepo) CreateBatch(ctx context.Context, records []*models.FetchRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, record := range records {
		if err := record.Validate(); err != nil {
			return fmt.Errorf("validating fetch record: %w", err)
		}
	}
	if err := r.db.WithContext(ctx).Create(records).Error; err != nil {
		return fmt.Errorf("creating fetch records: %w", err)
	}
	return nil
}

// GetByID retrieves a record by ID.
func (r *fetchRecordRepo) GetByID(ctx context.Context, id models.ULID) (*models.FetchRecord, error) {
	var record models.FetchRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting fetch record by ID: %w", err)
	}
	return &record, nil
}

// ListRecent returns up to limit records, newest first. ULIDs sort by
// creation time so the primary key breaks timestamp ties.
func (r *fetchRecordRepo) ListRecent(ctx context.Context, limit int) ([]*models.FetchRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var records []*models.FetchRecord
	if err := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing recent fetch records: %w", err)
	}
	return records, nil
}

// ListBySession returns a session's records in fetch order.
func (r *fetchRecordRepo) ListBySession(ctx context.Context, sessionID string) ([]*models.FetchRecord, error) {
	var records []*models.FetchRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("listing fetch records by session: %w", err)
	}
	return records, nil
}

// CountByOutcome counts records per outcome. An empty sessionID counts all.
func (r *fetchRecordRepo) CountByOutcome(ctx context.Context, sessionID string) ([]OutcomeCount, error) {
	var counts []OutcomeCount
	query := r.db.WithContext(ctx).Model(&models.FetchRecord{}).
		Select("outcome, COUNT(*) AS count").
		Group("outcome").
		Order("outcome ASC")
	if sessionID != "" {
		query = query.Where("session_id = ?", sessionID)
	}
	if err := query.Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting fetch records by outcome: %w", err)
	}
	return counts, nil
}

// Sessions summarises the most recently active sessions. Record IDs are
// ULIDs, so the smallest and largest ID carry the first and last fetch times.
func (r *fetchRecordRepo) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []struct {
		SessionID string
		Fetches   int64
		Bytes     int64
		FirstID   string
		LastID    string
	}
	err := r.db.WithContext(ctx).Model(&models.FetchRecord{}).
		Select("session_id, COUNT(*) AS fetches, COALESCE(SUM(bytes), 0) AS bytes, MIN(id) AS first_id, MAX(id) AS last_id").
		Group("session_id").
		Order("last_id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("summarising sessions: %w", err)
	}

	summaries := make([]SessionSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, SessionSummary{
			SessionID: row.SessionID,
			Fetches:   row.Fetches,
			Bytes:     row.Bytes,
			FirstAt:   idTime(row.FirstID),
			LastAt:    idTime(row.LastID),
		})
	}
	return summaries, nil
}

// DeleteOlderThan removes records created before the cutoff.
func (r *fetchRecordRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.FetchRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old fetch records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func idTime(id string) time.Time {
	u, err := models.ParseULID(id)
	if err != nil {
		return time.Time{}
	}
	return u.Time()
}
