package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gogotex/mindmaps/backend/go-services/internal/events"
	"github.com/gogotex/mindmaps/backend/go-services/internal/mindmap/service"
	"github.com/gogotex/mindmaps/backend/go-services/pkg/middleware"
)

// ActivityFeed returns the latest events of a mindmap, newest first.
type ActivityFeed interface {
	Recent(ctx context.Context, mindmapID int64, n int64) ([]events.Event, error)
}

// RegisterActivityRoutes mounts GET /api/maps/:id/activity?limit=.
func RegisterActivityRoutes(r gin.IRouter, svc *service.Service, feed ActivityFeed) {
	r.GET("/api/maps/:id/activity", func(c *gin.Context) {
		id, ok := mindmapID(c)
		if !ok {
			return
		}
		if err := svc.CheckRead(c.Request.Context(), id, middleware.AccountFrom(c)); err != nil {
			writeError(c, err)
			return
		}
		limit, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		list, err := feed.Recent(c.Request.Context(), id, limit)
		if err != nil {
			writeError(c, err)
			return
		}
		if list == nil {
			list = []events.Event{}
		}
		c.JSON(http.StatusOK, list)
	})
}
