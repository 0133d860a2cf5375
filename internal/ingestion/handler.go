package ingestion

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	v1 "github.com/pulse-lab/project-pulse/internal/api/v1"
	httperr "github.com/pulse-lab/project-pulse/internal/core/errors"
	"github.com/pulse-lab/project-pulse/internal/core/storage"
	"github.com/pulse-lab/project-pulse/internal/queue"
)

const (
	msgInvalidJSON   = "Invalid JSON body"
	msgPersistFailed = "Failed to persist event"
	msgQueryFailed   = "Failed to query events"
	msgMetricsFailed = "Failed to compute metrics"
)

// API exposes the ingestion service over HTTP. The queue controller is
// optional; without it the batch endpoint responds 404.
type API struct {
	svc          *Service
	queue        *queue.Controller
	maxBodyBytes int64
}

// NewAPI creates the HTTP layer for the ingestion service.
func NewAPI(svc *Service, q *queue.Controller, maxBodySizeMB int) *API {
	if svc == nil {
		panic("ingestion: service must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1
	}
	return &API{
		svc:          svc,
		queue:        q,
		maxBodyBytes: int64(maxBodySizeMB) * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion and query routes.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", a.TrackHandler)
	r.POST("/v1/events/query", a.QueryHandler)
	r.POST("/v1/metrics", a.MetricsHandler)
	r.GET("/v1/events/stream", a.StreamHandler)

	if a.queue != nil {
		r.POST("/v1/events/batch", a.QueueBatchHandler)
	}
}

// TrackHandler handles POST /v1/events: one event tracked synchronously.
func (a *API) TrackHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBodyBytes)

	var evt v1.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, err.Error())
		return
	}

	tracked, err := a.svc.TrackEvent(c.Request.Context(), &evt)
	if err != nil {
		var verr *v1.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(c, http.StatusBadRequest, httperr.HttpValidationError, err.Error(), nil)
		case errors.Is(err, ErrClosed):
			writeError(c, http.StatusServiceUnavailable, httperr.HttpServiceClosedError, err.Error(), nil)
		default:
			slog.Error("Failed to track event", "error", err)
			writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, msgPersistFailed, nil)
		}
		return
	}

	c.JSON(http.StatusAccepted, tracked)
}

// QueueBatchHandler handles POST /v1/events/batch: events enqueued for
// asynchronous batch processing. Per-event failures are not surfaced here.
func (a *API) QueueBatchHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBodyBytes)

	var body struct {
		Events []*v1.Event `json:"events" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, err.Error())
		return
	}

	a.queue.QueueEvents(body.Events)
	c.JSON(http.StatusAccepted, gin.H{"queued": len(body.Events)})
}

// QueryHandler handles POST /v1/events/query.
func (a *API) QueryHandler(c *gin.Context) {
	var query v1.Query
	if err := c.ShouldBindJSON(&query); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, err.Error())
		return
	}

	result, err := a.svc.QueryEvents(c.Request.Context(), &query)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidField) {
			writeError(c, http.StatusBadRequest, httperr.HttpInvalidQueryError, err.Error(), nil)
			return
		}
		slog.Error("Failed to query events", "error", err)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, msgQueryFailed, nil)
		return
	}

	c.JSON(http.StatusOK, result)
}

// MetricsHandler handles POST /v1/metrics.
func (a *API) MetricsHandler(c *gin.Context) {
	var req struct {
		Metric     string                 `json:"metric" binding:"required"`
		Dimensions []string               `json:"dimensions"`
		Filters    map[string]interface{} `json:"filters"`
		Timeframe  v1.Timeframe           `json:"timeframe"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, msgInvalidJSON, err.Error())
		return
	}

	result, err := a.svc.GetMetrics(c.Request.Context(), req.Metric, req.Dimensions, req.Filters, req.Timeframe)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUnsupportedMetric):
			writeError(c, http.StatusBadRequest, httperr.HttpUnsupportedMetricError, err.Error(), nil)
		case errors.Is(err, storage.ErrInvalidField):
			writeError(c, http.StatusBadRequest, httperr.HttpInvalidQueryError, err.Error(), nil)
		default:
			slog.Error("Failed to compute metrics", "error", err, "metric", req.Metric)
			writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, msgMetricsFailed, nil)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// StreamHandler handles GET /v1/events/stream: a live server-sent-event tap
// of the ingested stream. Delivery is best-effort; events arriving while the
// client's buffer is full are dropped rather than blocking ingestion.
func (a *API) StreamHandler(c *gin.Context) {
	events := make(chan *v1.Event, 64)
	unsubscribe := a.svc.SubscribeToEvents(func(evt *v1.Event) {
		select {
		case events <- evt:
		default:
		}
	})
	defer unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-events:
			c.SSEvent("event", evt)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// writeError serializes the JSON error response.
func writeError(c *gin.Context, status int, errorType, message string, details interface{}) {
	c.JSON(status, httperr.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
		Details:   details,
	})
}
