package controller

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Check is one dependency probed by Ready.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Health returns 200 if the process is alive. Used by load balancers.
func Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// Ready returns 200 if every dependency answers within 2s. Used by K8s
// readiness probes.
func Ready(checks ...Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		for _, chk := range checks {
			g.Go(func() error {
				if err := chk.Ping(gctx); err != nil {
					return fmt.Errorf("%s unavailable", chk.Name)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": err.Error()})
			return
		}
		c.String(http.StatusOK, "OK")
	}
}
