package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/thermalstream/internal/core/schedule"
	"github.com/ixugo/goddd/pkg/web"
)

// ScheduleAPI 录像计划，增删改后同步触发表
type ScheduleAPI struct {
	core  schedule.Core
	coord *schedule.Coordinator
}

func NewScheduleAPI(core schedule.Core, coord *schedule.Coordinator) ScheduleAPI {
	return ScheduleAPI{core: core, coord: coord}
}

func RegisterSchedule(g gin.IRouter, api ScheduleAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/schedules", handler...)
	group.GET("", web.WrapH(api.findSchedules))
	group.GET("/:id", web.WrapH(api.getSchedule))
	group.POST("", web.WrapH(api.addSchedule))
	group.PUT("/:id", web.WrapH(api.editSchedule))
	group.DELETE("/:id", web.WrapH(api.delSchedule))
}

func (a ScheduleAPI) findSchedules(c *gin.Context, in *schedule.FindScheduleInput) (any, error) {
	items, total, err := a.core.FindSchedules(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a ScheduleAPI) getSchedule(c *gin.Context, _ *struct{}) (*schedule.Schedule, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.core.GetSchedule(c.Request.Context(), id)
}

func (a ScheduleAPI) addSchedule(c *gin.Context, in *schedule.AddScheduleInput) (*schedule.Schedule, error) {
	out, err := a.core.AddSchedule(c.Request.Context(), in)
	if err != nil {
		return nil, err
	}
	a.coord.Add(c.Request.Context(), out.ID)
	return out, nil
}

func (a ScheduleAPI) editSchedule(c *gin.Context, in *schedule.EditScheduleInput) (*schedule.Schedule, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	out, err := a.core.EditSchedule(c.Request.Context(), in, id)
	if err != nil {
		return nil, err
	}
	// 停用的计划在 Add 中会被卸载
	a.coord.Add(c.Request.Context(), id)
	return out, nil
}

func (a ScheduleAPI) delSchedule(c *gin.Context, _ *struct{}) (*schedule.Schedule, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	out, err := a.core.DelSchedule(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	a.coord.Remove(id)
	return out, nil
}
