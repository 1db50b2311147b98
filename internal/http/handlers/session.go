package handlers

import (
	"context"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/hlsabr/internal/session"
)

// SnapshotProvider exposes the state of a playback session.
type SnapshotProvider interface {
	Snapshot() session.Snapshot
}

// SessionHandler serves the active session's snapshot.
type SessionHandler struct {
	mu     sync.RWMutex
	source SnapshotProvider
}

// NewSessionHandler creates a handler without an active session.
func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

// Attach sets the session reported by the handler. Nil detaches it.
func (h *SessionHandler) Attach(p SnapshotProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = p
}

// GetSessionInput is the input for the session endpoint.
type GetSessionInput struct{}

// GetSessionOutput is the output for the session endpoint.
type GetSessionOutput struct {
	Body session.Snapshot
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/session",
		Summary:     "Current session",
		Description: "Returns the variant, sequence, buffer and fetch state of the active session",
		Tags:        []string{"Session"},
	}, h.GetSession)
}

// GetSession returns the active session's snapshot.
func (h *SessionHandler) GetSession(context.Context, *GetSessionInput) (*GetSessionOutput, error) {
	h.mu.RLock()
	source := h.source
	h.mu.RUnlock()

	if source == nil {
		return nil, huma.Error404NotFound("no active session")
	}
	return &GetSessionOutput{Body: source.Snapshot()}, nil
}
