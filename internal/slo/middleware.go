package slo

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const PrewarmHeader = "X-Prewarm"

// Middleware records the latency of every request under its route template. Requests to
// excluded paths and prewarm probes are not recorded.
func Middleware(rec *Recorder, excluded []string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(excluded))
	for _, p := range excluded {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok || strings.EqualFold(c.GetHeader(PrewarmHeader), "true") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		rec.Record(c.Request.Method+" "+endpoint, time.Since(start), c.Writer.Status() >= 500)
	}
}
