package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/gowvp/thermalstream/internal/adapter/wssink"
	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/pipeline"
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// CameraAPI 摄像头会话
type CameraAPI struct {
	manager    *pipeline.Manager
	recordings recording.Core
	hub        *notify.Hub
}

func NewCameraAPI(manager *pipeline.Manager, recordings recording.Core, hub *notify.Hub) CameraAPI {
	return CameraAPI{manager: manager, recordings: recordings, hub: hub}
}

func RegisterCamera(g gin.IRouter, api CameraAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/cameras", handler...)
		group.GET("", web.WrapH(api.listCameras))
		group.POST("/connect", web.WrapH(api.connect))
		group.GET("/:id", web.WrapH(api.getCamera))
		group.POST("/:id/disconnect", web.WrapH(api.disconnect))
		group.PUT("/:id/detection", web.WrapH(api.toggleDetection))
		group.POST("/:id/recording/start", web.WrapH(api.startRecording))
		group.POST("/:id/recording/stop", web.WrapH(api.stopRecording))
		group.POST("/:id/screenshot", web.WrapH(api.screenshot))
	}
	{
		group := g.Group("/ws", handler...)
		group.GET("/video/:id", api.videoStream)
		group.GET("/notifications", api.notifications)
	}
}

// sessionErr 会话错误转换为业务错误码
func sessionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, camera.ErrSessionNotFound):
		return reason.ErrNotFound.Withf("%s", err.Error())
	case errors.Is(err, camera.ErrInvalidInput),
		errors.Is(err, camera.ErrConnectFailed),
		errors.Is(err, camera.ErrSessionExists),
		errors.Is(err, recording.ErrAlreadyRecording),
		errors.Is(err, recording.ErrNotRecording),
		errors.Is(err, pipeline.ErrNoFrame):
		return reason.ErrBadRequest.Withf("%s", err.Error())
	default:
		return reason.ErrServer.Withf("%s", err.Error())
	}
}

func (a CameraAPI) listCameras(_ *gin.Context, _ *struct{}) (gin.H, error) {
	items := a.manager.List()
	return gin.H{"items": items, "total": len(items)}, nil
}

func (a CameraAPI) connect(c *gin.Context, in *pipeline.ConnectInput) (*pipeline.Status, error) {
	out, err := a.manager.Connect(c.Request.Context(), *in)
	return out, sessionErr(err)
}

func (a CameraAPI) getCamera(c *gin.Context, _ *struct{}) (*pipeline.Status, error) {
	out, err := a.manager.Status(c.Param("id"))
	return out, sessionErr(err)
}

func (a CameraAPI) disconnect(c *gin.Context, _ *struct{}) (gin.H, error) {
	id := c.Param("id")
	if err := a.manager.Disconnect(c.Request.Context(), id); err != nil {
		return nil, sessionErr(err)
	}
	return gin.H{"id": id}, nil
}

type toggleDetectionInput struct {
	Enabled    bool    `json:"enabled"`
	Confidence float64 `json:"confidence"`
}

func (a CameraAPI) toggleDetection(c *gin.Context, in *toggleDetectionInput) (*pipeline.Status, error) {
	id := c.Param("id")
	if in.Confidence < 0 || in.Confidence > 1 {
		return nil, reason.ErrBadRequest.Withf("confidence must be within [0,1]")
	}
	if err := a.manager.ToggleDetection(c.Request.Context(), id, in.Enabled, in.Confidence); err != nil {
		return nil, sessionErr(err)
	}
	out, err := a.manager.Status(id)
	return out, sessionErr(err)
}

func (a CameraAPI) startRecording(c *gin.Context, _ *struct{}) (gin.H, error) {
	if !a.recordings.IsEnabled() {
		return nil, reason.ErrBadRequest.Withf("recording is disabled")
	}
	path, err := a.manager.StartRecording(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, sessionErr(err)
	}
	return gin.H{"filepath": path}, nil
}

func (a CameraAPI) stopRecording(c *gin.Context, _ *struct{}) (*recording.Stats, error) {
	out, err := a.manager.StopRecording(c.Request.Context(), c.Param("id"))
	return out, sessionErr(err)
}

func (a CameraAPI) screenshot(c *gin.Context, _ *struct{}) (gin.H, error) {
	path, err := a.manager.Screenshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, sessionErr(err)
	}
	return gin.H{"filepath": path}, nil
}

// videoStream 推送会话的叠加画面，会话结束或客户端断开时关闭
func (a CameraAPI) videoStream(c *gin.Context) {
	id := c.Param("id")
	done, err := a.manager.Done(id)
	if err != nil {
		web.Fail(c, sessionErr(err))
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	sink := wssink.New(conn, 2)
	cancel, err := a.manager.Subscribe(id, sink)
	if err != nil {
		sink.Close()
		return
	}
	defer cancel()
	go sink.ReadLoop()

	select {
	case <-sink.Done():
	case <-done:
		sink.Close()
	}
}

// notifications 推送用户通知，user_id 为空时接收全部
func (a CameraAPI) notifications(c *gin.Context) {
	uid, _ := strconv.ParseInt(c.Query("user_id"), 10, 64)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	sink := wssink.New(conn, 16)
	events, cancel := a.hub.Subscribe(uid)
	defer cancel()
	go sink.ReadLoop()

	wssink.ForwardNotifications(c.Request.Context(), sink, events)
	sink.Close()
}
