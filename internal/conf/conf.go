package conf

import "time"

// Bootstrap 服务启动配置，对应 configs/config.toml
type Bootstrap struct {
	Debug        bool      `toml:"debug" yaml:"debug"`
	BuildVersion string    `toml:"-" yaml:"-"`
	ConfigPath   string    `toml:"-" yaml:"-"`
	Server       Server    `toml:"server" yaml:"server"`
	Data         Data      `toml:"data" yaml:"data"`
	Log          Log       `toml:"log" yaml:"log"`
	Camera       Camera    `toml:"camera" yaml:"camera"`
	Pipeline     Pipeline  `toml:"pipeline" yaml:"pipeline"`
	Detect       Detect    `toml:"detect" yaml:"detect"`
	Recording    Recording `toml:"recording" yaml:"recording"`
	Event        Event     `toml:"event" yaml:"event"`
	Schedule     Schedule  `toml:"schedule" yaml:"schedule"`
	Notify       Notify    `toml:"notify" yaml:"notify"`
	MQTT         MQTT      `toml:"mqtt" yaml:"mqtt"`
}

type Server struct {
	Debug bool `toml:"debug" yaml:"debug"`
	HTTP  HTTP `toml:"http" yaml:"http"`
}

type HTTP struct {
	Port    int      `toml:"port" yaml:"port"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

type Data struct {
	Database Database `toml:"database" yaml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn" yaml:"dsn"`
	MaxIdleConns    int32    `toml:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold" yaml:"slow_threshold"`
}

type Log struct {
	Level string `toml:"level" yaml:"level"` // debug/info/warn/error
	JSON  bool   `toml:"json" yaml:"json"`
}

// Camera 摄像头拉流参数
type Camera struct {
	Width       int      `toml:"width" yaml:"width"`               // 解码输出宽度
	Height      int      `toml:"height" yaml:"height"`             // 解码输出高度
	DefaultFPS  float64  `toml:"default_fps" yaml:"default_fps"`   // 探测不到帧率时使用
	PullTimeout Duration `toml:"pull_timeout" yaml:"pull_timeout"` // 单帧读取超时
	Transport   string   `toml:"transport" yaml:"transport"`       // rtsp 传输方式 tcp/udp
	HWAccel     string   `toml:"hwaccel" yaml:"hwaccel"`
	DeviceFmt   string   `toml:"device_fmt" yaml:"device_fmt"` // 本地设备输入格式，如 v4l2
}

// Pipeline 会话循环参数
type Pipeline struct {
	DetectEvery    int      `toml:"detect_every" yaml:"detect_every"`       // 每 N 帧推理一次
	ReconcileEvery int      `toml:"reconcile_every" yaml:"reconcile_every"` // 每 N 次循环对齐一次计划录像
	SendTimeout    Duration `toml:"send_timeout" yaml:"send_timeout"`
	NoFrameBackoff Duration `toml:"no_frame_backoff" yaml:"no_frame_backoff"`
	StopTimeout    Duration `toml:"stop_timeout" yaml:"stop_timeout"`
	ControlBuffer  int      `toml:"control_buffer" yaml:"control_buffer"`
	PersistQueue   int      `toml:"persist_queue" yaml:"persist_queue"`
	ScreenshotDir  string   `toml:"screenshot_dir" yaml:"screenshot_dir"` // 手动截图目录
}

// Detect 目标检测服务
type Detect struct {
	Addr       string   `toml:"addr" yaml:"addr"` // gRPC 检测服务地址，为空时不做检测
	Confidence float64  `toml:"confidence" yaml:"confidence"`
	Timeout    Duration `toml:"timeout" yaml:"timeout"`
	CropDir    string   `toml:"crop_dir" yaml:"crop_dir"`
}

// Recording 录像配置
type Recording struct {
	Disabled   bool   `toml:"disabled" yaml:"disabled"`
	StorageDir string `toml:"storage_dir" yaml:"storage_dir"`
	Format     string `toml:"format" yaml:"format"` // mp4/mjpeg
	RetainDays int    `toml:"retain_days" yaml:"retain_days"`
}

type Event struct {
	RetainDays int `toml:"retain_days" yaml:"retain_days"`
}

type Schedule struct {
	TickInterval Duration `toml:"tick_interval" yaml:"tick_interval"`
	Timezone     string   `toml:"timezone" yaml:"timezone"` // 为空使用本地时区
}

type Notify struct {
	Buffer int `toml:"buffer" yaml:"buffer"`
}

// MQTT 通知转发，Broker 为空时不启用
type MQTT struct {
	Broker   string `toml:"broker" yaml:"broker"`
	ClientID string `toml:"client_id" yaml:"client_id"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	Topic    string `toml:"topic" yaml:"topic"`
}

// DefaultConfig 默认配置
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: HTTP{Port: 8000, Timeout: Duration(60 * time.Second)},
		},
		Data: Data{
			Database: Database{
				Dsn:             "configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: Duration(6 * time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Log: Log{Level: "info"},
		Camera: Camera{
			Width:       1280,
			Height:      720,
			DefaultFPS:  25,
			PullTimeout: Duration(2 * time.Second),
			Transport:   "tcp",
			DeviceFmt:   "v4l2",
		},
		Pipeline: Pipeline{
			DetectEvery:    2,
			ReconcileEvery: 30,
			SendTimeout:    Duration(time.Second),
			NoFrameBackoff: Duration(100 * time.Millisecond),
			StopTimeout:    Duration(10 * time.Second),
			ControlBuffer:  8,
			PersistQueue:   64,
			ScreenshotDir:  "screenshots",
		},
		Detect: Detect{
			Confidence: 0.5,
			Timeout:    Duration(2 * time.Second),
			CropDir:    "detections",
		},
		Recording: Recording{
			StorageDir: "recordings",
			Format:     "mp4",
			RetainDays: 7,
		},
		Event:    Event{RetainDays: 7},
		Schedule: Schedule{TickInterval: Duration(15 * time.Second)},
		Notify:   Notify{Buffer: 256},
		MQTT: MQTT{
			ClientID: "thermalstream",
			Topic:    "thermalstream/notifications",
		},
	}
}
