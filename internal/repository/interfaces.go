// Package repository defines data access for persisted fetch history.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/hlsabr/internal/models"
)

// OutcomeCount is the number of records with a given outcome.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// SessionSummary aggregates the records of one session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Fetches   int64     `json:"fetches"`
	Bytes     int64     `json:"bytes"`
	FirstAt   time.Time `json:"first_at"`
	LastAt    time.Time `json:"last_at"`
}

// FetchRecordRepository defines operations for fetch history persistence.
type FetchRecordRepository interface {
	// Create validates and stores a record.
	Create(ctx context.Context, record *models.FetchRecord) error
	// CreateBatch stores several records in one statement.
	CreateBatch(ctx context.Context, records []*models.FetchRecord) error
	// GetByID retrieves a record by ID, or nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.FetchRecord, error)
	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*models.FetchRecord, error)
	// ListBySession returns a session's records in fetch order.
	ListBySession(ctx context.Context, sessionID string) ([]*models.FetchRecord, error)
	// CountByOutcome counts records per outcome, optionally for one session.
	CountByOutcome(ctx context.Context, sessionID string) ([]OutcomeCount, error)
	// Sessions summarises the most recently active sessions.
	Sessions(ctx context.Context, limit int) ([]SessionSummary, error)
	// DeleteOlderThan removes records created before the cutoff.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
