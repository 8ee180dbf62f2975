package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"intake/internal/auth"
	"intake/internal/constants"
	"intake/internal/logger"
	apperrors "intake/pkg/errors"
	"intake/pkg/logging"
	"intake/pkg/models"
)

const CorrelationIDHeader = "X-Correlation-ID"

// Admitter decides whether an authenticated event may enter the queue.
type Admitter interface {
	Admit(ctx context.Context, event models.InboundEvent) (bool, error)
}

type Handler struct {
	queue    EventIngestionQueue
	admitter Admitter
	logger   logger.Logger
	now      func() time.Time
}

func NewHandler(queue EventIngestionQueue, admitter Admitter, log logger.Logger) *Handler {
	return &Handler{
		queue:    queue,
		admitter: admitter,
		logger:   log,
		now:      time.Now,
	}
}

// RegisterRoutes mounts the submission route on an authenticated group and the queue
// snapshot on a public one.
func (h *Handler) RegisterRoutes(authenticated, public *gin.RouterGroup) {
	authenticated.POST("/events", h.Submit)
	public.GET("/metrics/queue", h.QueueStats)
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

// Submit accepts one signed event: 202 when queued or already seen, 429 on backpressure.
//
// @Summary      Submit an event
// @Description  Queue one HMAC-signed event for batch persistence. Re-submitting a fingerprint already seen returns 202 with reason "duplicate".
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        Authorization   header    string               true   "HMAC-SHA256 signature=<hex>, timestamp=<unix_ms>, nonce=<random>"
// @Param        X-Peer-ID       header    string               false  "Peer id, defaults to the configured default peer"
// @Param        event           body      models.InboundEvent  true   "Event"
// @Success      202             {object}  map[string]interface{}
// @Failure      400             {object}  map[string]interface{}
// @Failure      401             {object}  map[string]interface{}
// @Failure      403             {object}  map[string]interface{}
// @Failure      422             {object}  map[string]interface{}
// @Failure      429             {object}  map[string]interface{}
// @Failure      503             {object}  map[string]interface{}
// @Router       /events [post]
func (h *Handler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	body, ok := auth.RawBody(c)
	if !ok {
		h.HandleError(c, apperrors.ErrMissingCredentials)
		return
	}

	var event models.InboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.HandleError(c, apperrors.ErrValidation.WithCause(err).WithDetail("message", "body is not a valid event"))
		return
	}
	if err := models.ValidateInboundEvent(&event); err != nil {
		var verr *models.ValidationError
		appErr := apperrors.ErrValidation.WithCause(err)
		if apperrors.As(err, &verr) {
			appErr = appErr.WithDetail("field", verr.Field).WithDetail("message", verr.Message)
		}
		h.HandleError(c, appErr)
		return
	}

	event.ReceivedAt = h.now().UTC()
	event.PeerID = auth.PeerID(c)
	if id := c.GetHeader(CorrelationIDHeader); id != "" {
		event.CorrelationID = id
	}
	if event.CorrelationID != "" {
		ctx = logging.WithCorrelationID(ctx, event.CorrelationID)
	}
	ctx = logging.WithEventID(ctx, event.EventID)

	if h.admitter != nil {
		admitted, err := h.admitter.Admit(ctx, event)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		if !admitted {
			h.logger.InfowCtx(ctx, "Event rejected by admission rule", "event_type", event.EventType)
			h.HandleError(c, apperrors.ErrAdmissionRejected.WithDetail("event_id", event.EventID))
			return
		}
	}

	result, err := h.queue.Enqueue(ctx, event)
	if err != nil {
		if apperrors.ToHTTPStatus(err) == http.StatusServiceUnavailable {
			c.Header("Retry-After", strconv.Itoa(constants.DefaultRetryAfter))
		}
		h.HandleError(c, err)
		return
	}

	if !result.Accepted {
		c.Header("Retry-After", strconv.Itoa(constants.DefaultRetryAfter))
		resp := apperrors.ToErrorResponse(apperrors.ErrQueueCapacity)
		resp["accepted"] = false
		resp["reason"] = result.Reason
		c.JSON(http.StatusTooManyRequests, resp)
		return
	}

	resp := gin.H{"accepted": true, "eventId": event.EventID}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	c.JSON(http.StatusAccepted, resp)
}

// QueueStats godoc
// @Summary      Queue statistics
// @Description  Depth and counters of the ingestion queue
// @Tags         metrics
// @Produce      json
// @Success      200  {object}  StatsSnapshot
// @Router       /metrics/queue [get]
func (h *Handler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats(c.Request.Context()))
}
