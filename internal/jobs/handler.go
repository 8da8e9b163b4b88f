package jobs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/changes"
	"salesops-backend/internal/shared/server/middleware"
	"salesops-backend/internal/shared/server/respond"
)

const defaultTimelineLimit = 50

// Handler wires HTTP handlers to the job service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

type submitBody struct {
	EntityType     EntityType `json:"entityType"`
	EntityID       string     `json:"entityId"`
	EntityName     string     `json:"entityName"`
	MaxRetries     *int       `json:"maxRetries,omitempty"`
	InitialDelayMs *int64     `json:"initialDelayMs,omitempty"`
}

type batchBody struct {
	Jobs []submitBody `json:"jobs"`
}

func (b submitBody) request(userID string) SubmitRequest {
	req := SubmitRequest{
		EntityType: EntityType(strings.ToLower(strings.TrimSpace(string(b.EntityType)))),
		EntityID:   b.EntityID,
		EntityName: b.EntityName,
		UserID:     userID,
	}
	if b.MaxRetries != nil || b.InitialDelayMs != nil {
		opts := &RetryOptions{MaxRetries: 3, InitialDelayMs: 1000}
		if b.MaxRetries != nil {
			opts.MaxRetries = *b.MaxRetries
		}
		if b.InitialDelayMs != nil {
			opts.InitialDelayMs = *b.InitialDelayMs
		}
		req.Retry = opts
	}
	return req
}

// RegisterRoutes attaches job routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, polling ...gin.HandlerFunc) {
	withPolling := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := append([]gin.HandlerFunc(nil), polling...)
		return append(chain, handler)
	}
	rg.POST("/jobs", h.submit)
	rg.POST("/jobs/batch", h.submitBatch)
	rg.GET("/jobs/:id", withPolling(h.getJob)...)
	rg.POST("/jobs/:id/cancel", h.cancel)
	rg.GET("/entities/:type/:id/jobs", withPolling(h.timeline)...)
}

func (h *Handler) submit(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Invalid(c, "invalid JSON body")
		return
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.Submit(ctx, body.request(middleware.UserIDFromContext(c)))
	if err != nil {
		h.writeError(c, err, "failed to submit job")
		return
	}
	c.Set("jobId", job.ID)
	respond.Accepted(c, "/api/v1/jobs/"+job.ID, job)
}

func (h *Handler) submitBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Invalid(c, "invalid JSON body")
		return
	}
	userID := middleware.UserIDFromContext(c)
	reqs := make([]SubmitRequest, 0, len(body.Jobs))
	for _, item := range body.Jobs {
		reqs = append(reqs, item.request(userID))
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	created, err := h.Svc.SubmitBatch(ctx, reqs)
	if err != nil {
		h.writeError(c, err, "failed to submit batch")
		return
	}
	respond.Accepted(c, "", gin.H{"jobs": created})
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to fetch job")
		return
	}
	c.Set("jobId", job.ID)
	respond.JSON(c, http.StatusOK, job)
}

func (h *Handler) cancel(c *gin.Context) {
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.Cancel(ctx, c.Param("id"))
	if errors.Is(err, ErrNotCancellable) {
		respond.Error(c, http.StatusConflict, "not_cancellable", "job already finished", []respond.FieldIssue{
			{Field: "status", Issue: string(job.Status)},
		})
		return
	}
	if err != nil {
		h.writeError(c, err, "failed to cancel job")
		return
	}
	c.Set("jobId", job.ID)
	c.Set("statusTransition", "->cancelled")
	respond.JSON(c, http.StatusOK, job)
}

func (h *Handler) timeline(c *gin.Context) {
	limit := defaultTimelineLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entityType := EntityType(strings.ToLower(c.Param("type")))
	jobs, err := h.Svc.Timeline(c.Request.Context(), entityType, c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err, "failed to list jobs")
		return
	}

	resp := make([]gin.H, 0, len(jobs))
	for _, job := range jobs {
		item := gin.H{
			"id":          job.ID,
			"version":     job.Version,
			"status":      job.Status,
			"completedAt": job.CompletedAt,
		}
		if score, ok := changes.PrimaryScore(job.Result); ok {
			item["score"] = score
		}
		if job.ChangeDetection != nil {
			item["hasChanges"] = job.ChangeDetection.HasChanges
			item["summary"] = job.ChangeDetection.Summary
		}
		if job.Status == StatusError {
			item["error"] = job.Error
			item["errorCode"] = job.ErrorCode
		}
		resp = append(resp, item)
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		respond.Invalid(c, vErr.Error(), respond.FieldIssue{Field: vErr.Field, Issue: vErr.Issue})
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
