// Package handlers provides the status API handlers.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/hlsabr/internal/transport"
)

// CircuitReporter exposes the transport circuit breaker state.
type CircuitReporter interface {
	CircuitState() transport.CircuitState
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	circuit   CircuitReporter
	db        Pinger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now()}
}

// WithCircuit reports the transport circuit breaker in health responses.
func (h *HealthHandler) WithCircuit(c CircuitReporter) *HealthHandler {
	h.circuit = c
	return h
}

// WithDB checks the history database in health responses.
func (h *HealthHandler) WithDB(db Pinger) *HealthHandler {
	h.db = db
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse describes the process and its collaborators.
type HealthResponse struct {
	Status        string            `json:"status" doc:"healthy or degraded"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Goroutines    int               `json:"goroutines"`
	Memory        MemoryInfo        `json:"memory"`
	Checks        map[string]string `json:"checks"`
}

// MemoryInfo holds system and process memory figures in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessRSSMB      float64 `json:"process_rss_mb"`
	HeapAllocMB       float64 `json:"heap_alloc_mb"`
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns process health, memory use and collaborator checks",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)
}

// GetLivez reports that the process is serving.
func (h *HealthHandler) GetLivez(context.Context, *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetHealth returns the health status of the process.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	checks := map[string]string{
		"transport": "not_configured",
		"history":   "not_configured",
	}
	status := "healthy"

	if h.circuit != nil {
		state := h.circuit.CircuitState()
		checks["transport"] = state.String()
		if state == transport.CircuitOpen {
			status = "degraded"
		}
	}
	if h.db != nil {
		checks["history"] = "ok"
		if err := h.db.Ping(ctx); err != nil {
			checks["history"] = "error"
			status = "degraded"
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			Goroutines:    runtime.NumGoroutine(),
			Memory:        memoryInfo(),
			Checks:        checks,
		},
	}, nil
}

const megabyte = 1024 * 1024

func memoryInfo() MemoryInfo {
	var info MemoryInfo

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / megabyte
		info.AvailableMemoryMB = float64(vm.Available) / megabyte
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if m, err := proc.MemoryInfo(); err == nil && m != nil {
			info.ProcessRSSMB = float64(m.RSS) / megabyte
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.HeapAllocMB = float64(ms.HeapAlloc) / megabyte

	return info
}
