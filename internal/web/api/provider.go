package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/thermalstream/internal/adapter/ffsource"
	"github.com/gowvp/thermalstream/internal/adapter/mqttpub"
	"github.com/gowvp/thermalstream/internal/conf"
	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/core/event"
	"github.com/gowvp/thermalstream/internal/core/event/store/eventdb"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/pipeline"
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/gowvp/thermalstream/internal/core/recording/store/recordingdb"
	"github.com/gowvp/thermalstream/internal/core/schedule"
	"github.com/gowvp/thermalstream/internal/core/schedule/store/scheduledb"
	"github.com/gowvp/thermalstream/internal/metrics"
	"github.com/gowvp/thermalstream/internal/rpc"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewClock,
	NewRecordingStore, NewRecordingCore, NewRecordingAPI, NewLedger,
	NewEventCore, NewOverlay, NewEventRecorder, NewEventAPI,
	NewScheduleCore, NewCoordinator, NewScheduleAPI,
	NewMQTTForwarder, NewNotifyHub,
	NewDetector, NewRegistry, NewManager, NewCameraAPI,
)

type Usecase struct {
	Conf        *conf.Bootstrap
	Manager     *pipeline.Manager
	Ledger      *recording.Ledger
	Coordinator *schedule.Coordinator
	Hub         *notify.Hub

	CameraAPI    CameraAPI
	ScheduleAPI  ScheduleAPI
	RecordingAPI RecordingAPI
	EventAPI     EventAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	if !uc.Conf.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(404, "来到了无人的荒漠")
	})
	setupRouter(g, uc)
	return g
}

func NewClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

// worker 后台协程，cleanup 时取消并等待退出
func worker(name string, fn func(context.Context)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() { fn(ctx) })
	return func() {
		cancel()
		wg.Wait()
		slog.Info("worker stopped", "name", name)
	}
}

// NewRecordingStore 创建录像存储层
func NewRecordingStore(db *gorm.DB) recording.Storer {
	return recordingdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

// NewRecordingCore 创建录像元数据服务，同时启动过期清理
func NewRecordingCore(store recording.Storer, bc *conf.Bootstrap, clock clockwork.Clock) (recording.Core, func()) {
	core := recording.NewCore(store,
		recording.WithConfig(&bc.Recording),
		recording.WithClock(clock),
	)
	return core, worker("recording cleanup", core.StartCleanupWorker)
}

// NewLedger 录像文件写在 StorageDir 下
func NewLedger(core recording.Core, bc *conf.Bootstrap, clock clockwork.Clock) (*recording.Ledger, error) {
	return recording.NewLedger(core.StorageDir(), recording.Format(bc.Recording.Format),
		recording.WithLedgerClock(clock),
	)
}

// NewEventCore 检测事件，同时启动过期清理
func NewEventCore(db *gorm.DB, bc *conf.Bootstrap, clock clockwork.Clock) (event.Core, func()) {
	store := eventdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
	core := event.NewCore(store, bc.Detect.CropDir, clock)
	days := bc.Event.RetainDays
	return core, worker("event cleanup", func(ctx context.Context) {
		core.StartCleanupWorker(ctx, days)
	})
}

func NewOverlay(core event.Core, clock clockwork.Clock) *detect.Overlay {
	return detect.NewOverlay(core.CropDir(), clock)
}

// NewEventRecorder 检测结果持久化队列，退出前处理完已入队的任务
func NewEventRecorder(core event.Core, overlay *detect.Overlay, bc *conf.Bootstrap) (*event.Recorder, func()) {
	r := event.NewRecorder(core, overlay, bc.Pipeline.PersistQueue)
	r.OnDrop = metrics.EventsDropped.Inc
	return r, worker("event recorder", r.Run)
}

func NewScheduleCore(db *gorm.DB, clock clockwork.Clock) schedule.Core {
	return schedule.NewCore(scheduledb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate()), clock)
}

// NewCoordinator 装载全部启用的计划并开始触发
func NewCoordinator(core schedule.Core, bc *conf.Bootstrap, hub *notify.Hub, clock clockwork.Clock) (*schedule.Coordinator, func(), error) {
	loc := time.Local
	if tz := bc.Schedule.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule timezone %q: %w", tz, err)
		}
		loc = l
	}
	c := schedule.NewCoordinator(core,
		schedule.WithCoordinatorClock(clock),
		schedule.WithLocation(loc),
		schedule.WithTickInterval(bc.Schedule.TickInterval.Duration()),
		schedule.WithPublisher(hub),
	)
	c.ReloadAll(context.Background())
	return c, worker("schedule coordinator", c.Run), nil
}

func NewMQTTForwarder(bc *conf.Bootstrap) (*mqttpub.Forwarder, func(), error) {
	return mqttpub.NewForwarder(bc.MQTT)
}

// NewNotifyHub 配置了 MQTT 时同时转发到 broker
func NewNotifyHub(bc *conf.Bootstrap, clock clockwork.Clock, fwd *mqttpub.Forwarder) (*notify.Hub, func()) {
	var forwarders []notify.Forwarder
	if fwd != nil {
		forwarders = append(forwarders, fwd)
	}
	hub := notify.NewHub(bc.Notify.Buffer, clock, forwarders...)
	return hub, worker("notify hub", hub.Run)
}

func NewDetector(bc *conf.Bootstrap) (detect.Detector, func(), error) {
	return rpc.NewDetector(bc.Detect)
}

func NewRegistry(bc *conf.Bootstrap, clock clockwork.Clock) (*camera.Registry, func()) {
	r := camera.NewRegistry(ffsource.NewAdapter(bc.Camera),
		camera.WithPullTimeout(bc.Camera.PullTimeout.Duration()),
		camera.WithDefaultFPS(bc.Camera.DefaultFPS),
		camera.WithClock(clock),
	)
	return r, r.CloseAll
}

// NewManager 录制关闭时不接入计划录像
func NewManager(
	bc *conf.Bootstrap,
	registry *camera.Registry,
	ledger *recording.Ledger,
	recordings recording.Core,
	coord *schedule.Coordinator,
	detector detect.Detector,
	overlay *detect.Overlay,
	recorder *event.Recorder,
	hub *notify.Hub,
	clock clockwork.Clock,
) (*pipeline.Manager, func()) {
	deps := pipeline.Deps{
		Registry:   registry,
		Cache:      detect.NewCache(),
		Ledger:     ledger,
		Recordings: recordings,
		Detector:   detector,
		Renderer:   overlay,
		Events:     recorder,
		Notifier:   hub,
		Clock:      clock,
	}
	if recordings.IsEnabled() {
		deps.Schedules = coord
	}
	m := pipeline.NewManager(deps, pipeline.NewConfig(bc.Pipeline, bc.Detect))
	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			slog.Error("shutdown pipelines", "err", err)
		}
	}
}
