package slo

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	recorder *Recorder
	detector *BurnDetector
}

func NewHandler(rec *Recorder, detector *BurnDetector) *Handler {
	return &Handler{recorder: rec, detector: detector}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/metrics/endpoints", h.Endpoints)
	rg.GET("/metrics/heatmap", h.Heatmap)
}

// Endpoints godoc
// @Summary      Latency percentiles per endpoint
// @Tags         metrics
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /metrics/endpoints [get]
func (h *Handler) Endpoints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"endpoints": h.recorder.Snapshot()})
}

// Heatmap godoc
// @Summary      Latency heatmap
// @Description  Percentile rows per endpoint, with the percentiles currently burning their budget
// @Tags         metrics
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /metrics/heatmap [get]
func (h *Handler) Heatmap(c *gin.Context) {
	rows := h.recorder.Heatmap()
	type row struct {
		HeatmapRow
		Burning []string `json:"burning,omitempty"`
	}

	out := make([]row, 0, len(rows))
	for _, r := range rows {
		item := row{HeatmapRow: r}
		if h.detector != nil {
			for _, p := range []string{"p95", "p99"} {
				if h.detector.Burning(r.Endpoint, p) {
					item.Burning = append(item.Burning, p)
				}
			}
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, gin.H{"heatmap": out})
}
