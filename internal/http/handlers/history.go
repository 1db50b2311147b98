package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/hlsabr/internal/models"
	"github.com/jmylchreest/hlsabr/internal/repository"
)

// HistoryHandler serves persisted fetch records.
type HistoryHandler struct {
	repo repository.FetchRecordRepository
}

// NewHistoryHandler creates a handler reading from repo.
func NewHistoryHandler(repo repository.FetchRecordRepository) *HistoryHandler {
	return &HistoryHandler{repo: repo}
}

// ListHistoryInput is the input for listing fetch records.
type ListHistoryInput struct {
	Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
	SessionID string `query:"session_id" doc:"Restrict to one session, in fetch order"`
}

// ListHistoryOutput is the output for listing fetch records.
type ListHistoryOutput struct {
	Body struct {
		Records []*models.FetchRecord `json:"records"`
	}
}

// OutcomesInput is the input for outcome counts.
type OutcomesInput struct {
	SessionID string `query:"session_id"`
}

// OutcomesOutput is the output for outcome counts.
type OutcomesOutput struct {
	Body struct {
		Outcomes []repository.OutcomeCount `json:"outcomes"`
	}
}

// Register registers the history routes with the API.
func (h *HistoryHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listHistory",
		Method:      "GET",
		Path:        "/api/v1/history",
		Summary:     "List fetch history",
		Tags:        []string{"History"},
	}, h.ListHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getHistoryOutcomes",
		Method:      "GET",
		Path:        "/api/v1/history/outcomes",
		Summary:     "Count fetches by outcome",
		Tags:        []string{"History"},
	}, h.Outcomes)
}

// ListHistory returns recent fetch records, or one session's records.
func (h *HistoryHandler) ListHistory(ctx context.Context, input *ListHistoryInput) (*ListHistoryOutput, error) {
	var (
		records []*models.FetchRecord
		err     error
	)
	if input.SessionID != "" {
		records, err = h.repo.ListBySession(ctx, input.SessionID)
		if err == nil && input.Limit > 0 && len(records) > input.Limit {
			records = records[len(records)-input.Limit:]
		}
	} else {
		records, err = h.repo.ListRecent(ctx, input.Limit)
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("listing fetch history", err)
	}

	out := &ListHistoryOutput{}
	out.Body.Records = records
	if out.Body.Records == nil {
		out.Body.Records = []*models.FetchRecord{}
	}
	return out, nil
}

// Outcomes counts fetch records by outcome.
func (h *HistoryHandler) Outcomes(ctx context.Context, input *OutcomesInput) (*OutcomesOutput, error) {
	counts, err := h.repo.CountByOutcome(ctx, input.SessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("counting fetch outcomes", err)
	}
	out := &OutcomesOutput{}
	out.Body.Outcomes = counts
	if out.Body.Outcomes == nil {
		out.Body.Outcomes = []repository.OutcomeCount{}
	}
	return out, nil
}
