package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

var startTime = time.Now()

// RegisterHealth registers GET /health (liveness) and GET /ready, which is
// 200 only when every check passes.
func RegisterHealth(rg gin.IRoutes, checks map[string]Check) {
	rg.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	rg.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		ready := true
		deps := map[string]bool{}
		errs := map[string]string{}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				deps[name] = false
				errs[name] = err.Error()
				ready = false
				continue
			}
			deps[name] = true
		}

		body := gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()}
		if !ready {
			body["status"] = "not_ready"
			body["errors"] = errs
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})
}
