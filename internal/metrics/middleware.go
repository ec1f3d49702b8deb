package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware records the duration of every API request. The route
// template is used as the path label so ids in URLs do not add series.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordAPIRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			float64(time.Since(start).Microseconds())/1000,
		)
	}
}
