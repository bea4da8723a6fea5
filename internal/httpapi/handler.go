// Package httpapi exposes the agent's read-only operations API: health,
// pending jobs and relay connectivity.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/varchive/dvm/internal/payment"
	"github.com/varchive/dvm/internal/relaypool"
)

// RelayReporter reports the configured relay endpoints' connection state.
type RelayReporter interface {
	Status() []relaypool.EndpointStatus
}

// Dependencies wires the handlers to the agent's live state.
type Dependencies struct {
	Pending *payment.PendingSet
	Relays  RelayReporter
	Logger  *slog.Logger
}

// Handler serves the ops endpoints.
type Handler struct {
	deps *Dependencies
}

// NewHandler creates the ops API handler.
func NewHandler(deps *Dependencies) *Handler {
	return &Handler{deps: deps}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "video-archive-agent",
	})
}

type pendingJobDTO struct {
	JobID          string `json:"job_id"`
	Requester      string `json:"requester"`
	URL            string `json:"url"`
	State          string `json:"state"`
	Encrypted      bool   `json:"encrypted"`
	ThumbnailCount int    `json:"thumbnail_count"`
	RequestedAt    string `json:"requested_at"`
}

// ListPendingJobs handles GET /api/v1/jobs
// Reports every job currently awaiting payment.
func (h *Handler) ListPendingJobs(c *gin.Context) {
	entries := h.deps.Pending.Snapshot()

	jobs := make([]pendingJobDTO, len(entries))
	for i, entry := range entries {
		jobs[i] = pendingJobDTO{
			JobID:          entry.Job.ID(),
			Requester:      entry.Job.Requester(),
			URL:            entry.Job.URL,
			State:          string(entry.Job.State),
			Encrypted:      entry.Job.Encrypted,
			ThumbnailCount: entry.Job.ThumbnailCount,
			RequestedAt:    entry.RequestedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// ListRelays handles GET /api/v1/relays
// Reports the configured relays and whether each is currently subscribed.
func (h *Handler) ListRelays(c *gin.Context) {
	status := h.deps.Relays.Status()

	connected := 0
	for _, s := range status {
		if s.Connected {
			connected++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"relays":    status,
		"connected": connected,
	})
}
