package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/thermalstream/internal/core/event"
	"github.com/ixugo/goddd/pkg/web"
)

// EventAPI 检测事件
type EventAPI struct {
	core event.Core
}

func NewEventAPI(core event.Core) EventAPI {
	return EventAPI{core: core}
}

func RegisterEvent(g gin.IRouter, api EventAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/events", handler...)
	group.GET("", web.WrapH(api.findEvents))
	group.GET("/:id", web.WrapH(api.getEvent))
	group.GET("/:id/image", api.getEventImage)
}

func (a EventAPI) findEvents(c *gin.Context, in *event.FindEventInput) (any, error) {
	items, total, err := a.core.FindEvents(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a EventAPI) getEvent(c *gin.Context, _ *struct{}) (*event.Event, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.core.GetEvent(c.Request.Context(), id)
}

// getEventImage 事件截图
func (a EventAPI) getEventImage(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	ev, err := a.core.GetEvent(c.Request.Context(), id)
	if err != nil {
		web.Fail(c, err)
		return
	}
	if ev.ImagePath == "" {
		c.Status(http.StatusNotFound)
		return
	}
	if _, err := os.Stat(ev.ImagePath); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", "max-age=86400")
	c.File(ev.ImagePath)
}
