package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/grafov/m3u8"
	"github.com/ixugo/goddd/pkg/web"
)

const staticRecordings = "/static/recordings"

// RecordingAPI 为 http 提供业务方法
type RecordingAPI struct {
	recordingCore recording.Core
}

func NewRecordingAPI(core recording.Core) RecordingAPI {
	return RecordingAPI{recordingCore: core}
}

func RegisterRecording(g gin.IRouter, api RecordingAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/recordings", handler...)
		group.GET("", web.WrapH(api.findRecordings))
		group.GET("/timeline", web.WrapH(api.getTimeline))
		// HLS 播放列表，按摄像头与时间范围生成
		group.GET("/cameras/:cid/index.m3u8", api.cameraPlaylist)
		group.GET("/:id", web.WrapH(api.getRecording))
		group.DELETE("/:id", web.WrapH(api.delRecording))
		group.GET("/:id/download", api.downloadRecording)
	}

	// Static 支持 Range 请求，可边下边播
	dir := api.recordingCore.StorageDir()
	slog.Info("serve recordings", "path", staticRecordings, "dir", dir)
	g.Static(staticRecordings, dir)
}

// findRecordings 分页查询录像列表
func (a RecordingAPI) findRecordings(c *gin.Context, in *recording.FindRecordingInput) (any, error) {
	items, total, err := a.recordingCore.FindRecordings(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a RecordingAPI) getTimeline(c *gin.Context, in *recording.TimelineInput) (any, error) {
	items, err := a.recordingCore.GetTimeline(c.Request.Context(), in)
	return gin.H{"items": items}, err
}

func (a RecordingAPI) getRecording(c *gin.Context, _ *struct{}) (*recording.Recording, error) {
	recordingID, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.recordingCore.GetRecording(c.Request.Context(), recordingID)
}

func (a RecordingAPI) delRecording(c *gin.Context, _ *struct{}) (*recording.Recording, error) {
	recordingID, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.recordingCore.DelRecording(c.Request.Context(), recordingID)
}

// downloadRecording 下载录像文件
func (a RecordingAPI) downloadRecording(c *gin.Context) {
	recordingID, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	rec, err := a.recordingCore.GetRecording(c.Request.Context(), recordingID)
	if err != nil {
		web.Fail(c, err)
		return
	}
	filePath := a.recordingCore.GetFullPath(rec.Path)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "recording file not found"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(filePath)))
	c.File(filePath)
}

// cameraPlaylist 生成 VOD m3u8，片段指向静态录像文件
// 路径: /recordings/cameras/:cid/index.m3u8?start_ms=xxx&end_ms=xxx
func (a RecordingAPI) cameraPlaylist(c *gin.Context) {
	cid, err := strconv.ParseInt(c.Param("cid"), 10, 64)
	if err != nil || cid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "invalid camera id"})
		return
	}
	var in recording.TimelineInput
	in.CameraID = cid
	in.StartMs, _ = strconv.ParseInt(c.Query("start_ms"), 10, 64)
	in.EndMs, _ = strconv.ParseInt(c.Query("end_ms"), 10, 64)

	recordings, err := a.recordingCore.FindCameraRecordings(c.Request.Context(), &in)
	if err != nil {
		web.Fail(c, err)
		return
	}
	if len(recordings) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "no recordings found in time range"})
		return
	}

	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.String(http.StatusOK, a.playlist(recordings))
}

// playlist recordings 已按开始时间升序
// 每个文件的时间戳都从 0 开始，片段之间需要 DISCONTINUITY
func (a RecordingAPI) playlist(recordings []*recording.Recording) string {
	pl, err := m3u8.NewMediaPlaylist(0, uint(len(recordings)))
	if err != nil {
		return ""
	}
	pl.MediaType = m3u8.VOD

	root := a.recordingCore.StorageDir()
	for i, rec := range recordings {
		rel, err := filepath.Rel(root, a.recordingCore.GetFullPath(rec.Path))
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if err := pl.Append(staticRecordings+"/"+filepath.ToSlash(rel), rec.Duration, rec.FileName); err != nil {
			break
		}
		// 标记作用于刚追加的片段
		if i > 0 {
			_ = pl.SetDiscontinuity()
		}
	}
	pl.Close()
	return pl.String()
}
