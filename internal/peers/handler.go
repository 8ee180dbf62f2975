package peers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"intake/internal/auth"
	"intake/internal/logger"
	apperrors "intake/pkg/errors"
)

type Handler struct {
	registry *Registry
	logger   logger.Logger
}

func NewHandler(registry *Registry, log logger.Logger) *Handler {
	return &Handler{registry: registry, logger: log}
}

func (h *Handler) RegisterRoutes(authenticated, public *gin.RouterGroup) {
	authenticated.POST("/peers/register", h.Register)
	authenticated.POST("/peers/heartbeat", h.Heartbeat)
	public.GET("/peers", h.List)
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

type heartbeatRequest struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// resolveAgent defaults the agent id to the authenticated peer and refuses to act on
// behalf of another peer.
func resolveAgent(c *gin.Context, agentID string) (string, error) {
	peer := auth.PeerID(c)
	if agentID == "" {
		return peer, nil
	}
	if !strings.EqualFold(agentID, peer) {
		return "", apperrors.ErrForbidden.WithDetail("message", "agent_id does not match authenticated peer")
	}
	return agentID, nil
}

// Register godoc
// @Summary      Register a peer agent
// @Description  Record the calling peer's agent metadata. agent_id defaults to the authenticated peer.
// @Tags         peers
// @Accept       json
// @Produce      json
// @Param        registration  body      Registration  true  "Agent metadata"
// @Success      201           {object}  map[string]interface{}
// @Failure      400           {object}  map[string]interface{}
// @Failure      401           {object}  map[string]interface{}
// @Failure      403           {object}  map[string]interface{}
// @Router       /peers/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		h.HandleError(c, apperrors.ErrValidation.WithCause(err))
		return
	}

	id, err := resolveAgent(c, req.AgentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	req.AgentID = id

	peer, err := h.registry.Register(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.logger.InfowCtx(c.Request.Context(), "Peer registered",
		"agent_id", peer.AgentID,
		"agent_name", peer.AgentName,
		"version", peer.Version,
	)
	c.JSON(http.StatusCreated, gin.H{
		"peer":                          peer,
		"next_heartbeat_due_in_seconds": int(h.registry.HeartbeatInterval().Seconds()),
	})
}

// Heartbeat godoc
// @Summary      Peer heartbeat
// @Description  Refresh the calling peer's liveness and report when the next heartbeat is due
// @Tags         peers
// @Accept       json
// @Produce      json
// @Param        heartbeat  body      heartbeatRequest  false  "Optional agent id and status"
// @Success      200        {object}  map[string]interface{}
// @Failure      401        {object}  map[string]interface{}
// @Failure      403        {object}  map[string]interface{}
// @Failure      404        {object}  map[string]interface{}
// @Router       /peers/heartbeat [post]
func (h *Handler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.HandleError(c, apperrors.ErrValidation.WithCause(err))
		return
	}

	id, err := resolveAgent(c, req.AgentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	next, err := h.registry.Heartbeat(c.Request.Context(), id, req.Status)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"agent_id":                      id,
		"next_heartbeat_due_in_seconds": int(next.Seconds()),
	})
}

// List godoc
// @Summary      List peers
// @Tags         peers
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /peers [get]
func (h *Handler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": h.registry.List(c.Request.Context())})
}
