package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GinHandler serves the Prometheus registry on a gin route.
func GinHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
