package api

import (
	"errors"
	"net/http"
	"strconv"

	"anvil/internal/contextstore"
	"anvil/internal/models"
	"anvil/internal/queue"
	"anvil/internal/storage"

	"github.com/gin-gonic/gin"
)

// HistoryLister is the read surface of the job archive.
type HistoryLister interface {
	Recent(limit int) ([]models.HistoryJob, error)
}

// Handler contains API handlers
type Handler struct {
	queue    *queue.Queue
	packager *storage.Packager
	store    *contextstore.Store
	history  HistoryLister
}

// NewHandler creates a new API handler. history may be nil when the archive
// is disabled.
func NewHandler(q *queue.Queue, p *storage.Packager, s *contextstore.Store, h HistoryLister) *Handler {
	return &Handler{
		queue:    q,
		packager: p,
		store:    s,
		history:  h,
	}
}

// Root returns a liveness banner.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Anvil task API is running"})
}

// ScheduleRequest represents a task submission
type ScheduleRequest struct {
	Task string `json:"task"`
}

// ScheduleTask accepts a task and returns the new job id immediately.
func (h *Handler) ScheduleTask(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.queue.Submit(req.Task)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrInvalidTask):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, queue.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": models.StatusPending})
}

// GetJobStatus returns the current snapshot of one job.
func (h *Handler) GetJobStatus(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.queue.GetStatus(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	resp := gin.H{
		"job_id": job.ID,
		"state":  job.Status,
	}
	if job.Status == models.StatusCompleted {
		resp["output_url"] = "/download/" + job.ID
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}

	c.JSON(http.StatusOK, resp)
}

// DownloadResults streams the zip archive of a completed job's output.
func (h *Handler) DownloadResults(c *gin.Context) {
	jobID := c.Param("id")

	job, err := h.queue.GetStatus(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Status != models.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job not yet completed"})
		return
	}

	zipPath, err := h.packager.ResultArchive(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "output not found"})
		return
	}

	c.FileAttachment(zipPath, "task_"+jobID+"_results.zip")
}

// ListJobs returns snapshots of all live jobs.
func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.queue.List()})
}

// GetStats counts live jobs by state.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.queue.Stats()})
}

// GetHistory returns archived terminal jobs, newest first.
func (h *Handler) GetHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []models.HistoryJob{}})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.history.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetContext returns the most recent context entries.
func (h *Handler) GetContext(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	entries, err := h.store.Load(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
