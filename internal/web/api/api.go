package api

import (
	"expvar"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startRuntime = time.Now()

func setupRouter(r *gin.Engine, uc *Usecase) {
	r.Use(
		// 格式化输出到控制台，然后记录到日志
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		web.Metrics(),
		web.Logger(
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/ws"),
			web.IgnorePrefix("/metrics"),
			web.IgnorePrefix("/recordings/cameras"), // m3u8 播放列表
			web.IgnorePrefix(staticRecordings),
		),
	)
	go web.CountGoroutines(10*time.Minute, 20)

	r.Use(cors.New(cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{
			"Accept", "Content-Length", "Content-Type", "Range", "Accept-Language",
			"Origin", "Authorization", "Referer", "User-Agent", "Accept-Encoding",
			"Cache-Control", "Pragma", "X-Requested-With", "X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc: func(_ string) bool {
			return true
		},
	}))
	// websocket 与录像文件不压缩
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/ws", staticRecordings, "/metrics"}),
	))

	r.GET("/health", web.WrapH(uc.getHealth))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/app/metrics/api", web.WrapH(uc.getMetricsAPI))

	RegisterCamera(r, uc.CameraAPI)
	RegisterSchedule(r, uc.ScheduleAPI)
	RegisterRecording(r, uc.RecordingAPI)
	RegisterEvent(r, uc.EventAPI)
}

type diskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

type getHealthOutput struct {
	Version          string     `json:"version"`
	StartAt          time.Time  `json:"start_at"`
	Sessions         int        `json:"sessions"`
	ActiveRecordings int        `json:"active_recordings"`
	ArmedSchedules   int        `json:"armed_schedules"`
	Subscribers      int        `json:"subscribers"`
	Disk             *diskUsage `json:"disk,omitempty"`
}

func (uc *Usecase) getHealth(_ *gin.Context, _ *struct{}) (getHealthOutput, error) {
	out := getHealthOutput{
		Version:          uc.Conf.BuildVersion,
		StartAt:          startRuntime,
		Sessions:         len(uc.Manager.List()),
		ActiveRecordings: uc.Ledger.Count(),
		ArmedSchedules:   uc.Coordinator.Armed(),
		Subscribers:      uc.Hub.Subscribers(),
	}
	if st, err := uc.RecordingAPI.recordingCore.DiskUsage(); err == nil {
		out.Disk = &diskUsage{Path: st.Path, Total: st.Total, Used: st.Used, UsedPercent: st.UsedPercent}
	} else {
		slog.Debug("disk usage", "err", err)
	}
	return out, nil
}

type getMetricsAPIOutput struct {
	RealTimeRequests int64  `json:"real_time_requests"` // 实时请求数
	TotalRequests    int64  `json:"total_requests"`     // 总请求数
	TotalResponses   int64  `json:"total_responses"`    // 总响应数
	RequestTop10     []KV   `json:"request_top10"`      // 请求TOP10
	StatusCodeTop10  []KV   `json:"status_code_top10"`  // 状态码TOP10
	Goroutines       any    `json:"goroutines"`         // 协程数量
	NumGC            uint32 `json:"num_gc"`             // gc 次数
	SysAlloc         uint64 `json:"sys_alloc"`          // 内存占用
	StartAt          string `json:"start_at"`           // 运行时间
}

// getMetricsAPI web.Metrics 中间件记录的请求统计
func (uc *Usecase) getMetricsAPI(_ *gin.Context, _ *struct{}) (*getMetricsAPIOutput, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	out := getMetricsAPIOutput{
		NumGC:    stats.NumGC,
		SysAlloc: stats.Sys,
		StartAt:  startRuntime.Format(time.DateTime),
	}
	if v, ok := expvar.Get("request").(*expvar.Int); ok {
		out.RealTimeRequests = v.Value()
	}
	if v, ok := expvar.Get("requests").(*expvar.Int); ok {
		out.TotalRequests = v.Value()
	}
	if v, ok := expvar.Get("responses").(*expvar.Int); ok {
		out.TotalResponses = v.Value()
	}
	if m, ok := expvar.Get("requestURLs").(*expvar.Map); ok {
		out.RequestTop10 = sortExpvarMap(m, 10)
	}
	if m, ok := expvar.Get("statusCodes").(*expvar.Map); ok {
		out.StatusCodeTop10 = sortExpvarMap(m, 10)
	}
	if g, ok := expvar.Get("goroutine_num").(expvar.Func); ok {
		out.Goroutines = g()
	}
	return &out, nil
}

type KV struct {
	Key   string
	Value int64
}

func sortExpvarMap(data *expvar.Map, top int) []KV {
	kvs := make([]KV, 0, 8)
	data.Do(func(kv expvar.KeyValue) {
		if v, ok := kv.Value.(*expvar.Int); ok {
			kvs = append(kvs, KV{Key: strings.Trim(kv.Key, `"`), Value: v.Value()})
		}
	})
	sort.Slice(kvs, func(i, j int) bool {
		return kvs[i].Value > kvs[j].Value
	})
	return kvs[:min(top, len(kvs))]
}
