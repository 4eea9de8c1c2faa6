package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "thermalstream"

// 会话与帧处理
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Number of camera sessions with a running pipeline",
	})

	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Frames pulled and processed by the pipeline, by camera",
	}, []string{"camera"})

	EmptyPulls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "empty_pulls_total",
		Help:      "Pull attempts that returned no frame",
	})

	SinkDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_dropped_total",
		Help:      "Frames dropped because a sink did not accept them in time",
	})
)

// 检测
var (
	DetectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detect_duration_seconds",
		Help:      "Detector call latency in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
	})

	DetectErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detect_errors_total",
		Help:      "Detector calls that failed or timed out",
	})

	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_total",
		Help:      "Detections returned by the detector, by class",
	}, []string{"class"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Detection persistence jobs dropped because the queue was full",
	})
)

// 录制与通知
var (
	ActiveRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_recordings",
		Help:      "Number of recordings currently being written",
	})

	RecordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recordings_total",
		Help:      "Finished recordings by trigger (manual/scheduled)",
	}, []string{"trigger"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped because a buffer was full",
	})

	ScheduleWindowsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "schedule_windows_open",
		Help:      "Number of cameras whose schedule window is currently open",
	})
)

// Trigger 录制触发方式的标签值
func Trigger(scheduled bool) string {
	if scheduled {
		return "scheduled"
	}
	return "manual"
}
