package pipeline_test

import (
	"context"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/gowvp/thermalstream/internal/core/camera/camtest"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/core/event"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/pipeline"
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/gowvp/thermalstream/internal/core/schedule"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

type scriptedDetector struct {
	mu     sync.Mutex
	calls  int
	script func(call int) []detect.Detection
}

func (d *scriptedDetector) Detect(context.Context, image.Image, float64) ([]detect.Detection, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()
	return d.script(call), nil
}

type packetLog struct {
	mu   sync.Mutex
	pkts []pipeline.Packet
}

func (l *packetLog) Send(_ context.Context, pkt *pipeline.Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pkts = append(l.pkts, *pkt)
	return nil
}

func (l *packetLog) snapshot() []pipeline.Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]pipeline.Packet(nil), l.pkts...)
}

type schedules struct {
	desired atomic.Bool
	active  *schedule.Schedule
}

func (s *schedules) IsRecordingDesired(int64) bool { return s.desired.Load() }

func (s *schedules) ActiveScheduleFor(context.Context, int64, time.Time) (*schedule.Schedule, error) {
	return s.active, nil
}

type saver struct {
	mu     sync.Mutex
	inputs []recording.AddRecordingInput
}

func (s *saver) AddRecording(_ context.Context, in *recording.AddRecordingInput) (*recording.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, *in)
	return &recording.Recording{ID: int64(len(s.inputs))}, nil
}

func (s *saver) saved() []recording.AddRecordingInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recording.AddRecordingInput(nil), s.inputs...)
}

type notes struct {
	mu    sync.Mutex
	types []string
}

func (n *notes) Publish(ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = append(n.types, ev.Type)
}

func (n *notes) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.types...)
}

type jobs struct {
	mu  sync.Mutex
	got []event.Job
}

func (j *jobs) Enqueue(job event.Job) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.got = append(j.got, job)
	return true
}

func (j *jobs) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.got)
}

type harness struct {
	m         *pipeline.Manager
	opener    *camtest.Opener
	registry  *camera.Registry
	ledger    *recording.Ledger
	saver     *saver
	notes     *notes
	schedules *schedules
	jobs      *jobs
	shotDir   string
}

func newHarness(t *testing.T, detector detect.Detector, opts ...func(*pipeline.Deps)) *harness {
	t.Helper()
	opener := &camtest.Opener{FPSRate: 200}
	registry := camera.NewRegistry(opener, camera.WithPullTimeout(20*time.Millisecond))
	ledger, err := recording.NewLedger(t.TempDir(), recording.FormatMJPEG)
	require.NoError(t, err)

	h := harness{
		opener:    opener,
		registry:  registry,
		ledger:    ledger,
		saver:     &saver{},
		notes:     &notes{},
		schedules: &schedules{},
		jobs:      &jobs{},
		shotDir:   t.TempDir(),
	}
	deps := pipeline.Deps{
		Registry:   registry,
		Cache:      detect.NewCache(),
		Ledger:     ledger,
		Recordings: h.saver,
		Schedules:  h.schedules,
		Detector:   detector,
		Renderer:   detect.NewOverlay(t.TempDir(), nil),
		Events:     h.jobs,
		Notifier:   h.notes,
	}
	for _, fn := range opts {
		fn(&deps)
	}
	h.m = pipeline.NewManager(deps, pipeline.Config{
		ReconcileEvery: 2,
		NoFrameBackoff: 5 * time.Millisecond,
		SendTimeout:    50 * time.Millisecond,
		StopTimeout:    2 * time.Second,
		ScreenshotDir:  h.shotDir,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.m.Shutdown(ctx)
	})
	return &h
}

func (h *harness) waitFrames(t *testing.T, id string, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := h.m.Status(id)
		return err == nil && st.FramesProcessed == n
	}, waitFor, 5*time.Millisecond)
}

func TestRecordTenFrames(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 1, Input: "1"})
	require.NoError(t, err)
	require.Equal(t, camera.KindDevice, st.Descriptor.Kind)
	require.Equal(t, 1, st.Descriptor.Index)
	require.False(t, st.Detection)

	path, err := h.m.StartRecording(ctx, st.ID)
	require.NoError(t, err)
	_, err = h.m.StartRecording(ctx, st.ID)
	require.ErrorIs(t, err, recording.ErrAlreadyRecording)

	h.opener.Last().Push(10)
	h.waitFrames(t, st.ID, 10)

	stats, err := h.m.StopRecording(ctx, st.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10, stats.FrameCount)
	require.Positive(t, stats.FileSizeBytes)
	require.Equal(t, path, stats.FilePath)

	saved := h.saver.saved()
	require.Len(t, saved, 1)
	require.EqualValues(t, 10, saved[0].FrameCount)
	require.False(t, saved[0].IsScheduled)
	require.EqualValues(t, 1, saved[0].CameraID)

	_, err = h.m.StopRecording(ctx, st.ID)
	require.ErrorIs(t, err, recording.ErrNotRecording)
}

func TestDetectionCacheBridgesSkippedFrames(t *testing.T) {
	ctx := context.Background()
	person := detect.Detection{ClassID: 0, ClassName: "person", Confidence: 0.9, BBox: detect.BBox{X1: 10, Y1: 10, X2: 40, Y2: 40}}
	detector := &scriptedDetector{script: func(call int) []detect.Detection {
		if call == 1 {
			return []detect.Detection{person}
		}
		return nil
	}}
	h := newHarness(t, detector)

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 1, Input: "0", Detection: true, Confidence: 0.5})
	require.NoError(t, err)
	require.True(t, st.Detection)

	log := &packetLog{}
	cancel, err := h.m.Subscribe(st.ID, log)
	require.NoError(t, err)
	defer cancel()

	h.opener.Last().Push(7)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 7 }, waitFor, 5*time.Millisecond)

	// 第 2 帧推理命中，3..5 帧沿用缓存，第 6 帧 (N+4) 清空
	counts := make([]int, 0, 7)
	for i, pkt := range log.snapshot() {
		require.EqualValues(t, i+1, pkt.FrameCount)
		require.NotEmpty(t, pkt.Frame)
		counts = append(counts, len(pkt.Detections))
	}
	require.Equal(t, []int{0, 1, 1, 1, 1, 0, 0}, counts)
	require.Equal(t, 1, h.jobs.len())

	require.NoError(t, h.m.ToggleDetection(ctx, st.ID, false, 0))
	st2, err := h.m.Status(st.ID)
	require.NoError(t, err)
	require.False(t, st2.Detection)
	require.InDelta(t, 0.5, st2.Confidence, 1e-9)
}

func TestDisconnectReleasesResources(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 2, Input: "rtsp://10.0.0.5/stream"})
	require.NoError(t, err)
	src := h.opener.Last()

	_, err = h.m.StartRecording(ctx, st.ID)
	require.NoError(t, err)
	src.Push(3)
	h.waitFrames(t, st.ID, 3)

	require.NoError(t, h.m.Disconnect(ctx, st.ID))
	require.True(t, src.Closed())
	require.Zero(t, h.registry.Len())
	require.Zero(t, h.ledger.Count())

	saved := h.saver.saved()
	require.Len(t, saved, 1)
	require.EqualValues(t, 3, saved[0].FrameCount)

	require.Equal(t, []string{
		notify.TypeCameraConnected,
		notify.TypeRecordingStarted,
		notify.TypeRecordingStopped,
		notify.TypeCameraDisconnected,
	}, h.notes.seen())

	_, err = h.m.StartRecording(ctx, st.ID)
	require.Error(t, err)
	require.ErrorIs(t, h.m.Disconnect(ctx, "missing"), camera.ErrSessionNotFound)
}

func TestScheduledRecordingFollowsCoordinator(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.schedules.active = &schedule.Schedule{ID: 3, CameraID: 7}
	h.schedules.desired.Store(true)

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 7, Input: "0"})
	require.NoError(t, err)
	require.True(t, st.Recording)
	require.True(t, st.RecordingScheduled)

	h.schedules.desired.Store(false)
	require.Eventually(t, func() bool {
		s, err := h.m.Status(st.ID)
		return err == nil && !s.Recording
	}, waitFor, 5*time.Millisecond)

	saved := h.saver.saved()
	require.Len(t, saved, 1)
	require.True(t, saved[0].IsScheduled)

	h.schedules.desired.Store(true)
	require.Eventually(t, func() bool {
		s, err := h.m.Status(st.ID)
		return err == nil && s.Recording && s.RecordingScheduled
	}, waitFor, 5*time.Millisecond)
}

func TestManualRecordingSurvivesScheduleClose(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 7, Input: "0"})
	require.NoError(t, err)
	require.False(t, st.Recording)

	_, err = h.m.StartRecording(ctx, st.ID)
	require.NoError(t, err)

	// 等待若干次对齐
	h.opener.Last().Push(6)
	h.waitFrames(t, st.ID, 6)

	s, err := h.m.Status(st.ID)
	require.NoError(t, err)
	require.True(t, s.Recording)
	require.False(t, s.RecordingScheduled)
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.opener.Accept = func(camera.Descriptor) bool { return false }

	_, err := h.m.Connect(context.Background(), pipeline.ConnectInput{CameraID: 1, Input: "192.168.1.20"})
	require.ErrorIs(t, err, camera.ErrConnectFailed)
	require.Empty(t, h.m.List())
	require.Zero(t, h.registry.Len())
}

func TestSlowSinkDropsFrames(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 1, Input: "0"})
	require.NoError(t, err)
	cancel, err := h.m.Subscribe(st.ID, pipeline.SinkFunc(func(ctx context.Context, _ *pipeline.Packet) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, err)
	defer cancel()

	h.opener.Last().Push(2)
	require.Eventually(t, func() bool {
		s, err := h.m.Status(st.ID)
		return err == nil && s.FramesProcessed == 2 && s.FramesDropped == 2
	}, waitFor, 5*time.Millisecond)
}

func TestScreenshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 1, Input: "0", Label: "garage"})
	require.NoError(t, err)

	_, err = h.m.Screenshot(ctx, st.ID)
	require.ErrorIs(t, err, pipeline.ErrNoFrame)

	h.opener.Last().Push(1)
	h.waitFrames(t, st.ID, 1)

	path, err := h.m.Screenshot(ctx, st.ID)
	require.NoError(t, err)
	require.FileExists(t, path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
	require.Contains(t, h.notes.seen(), notify.TypeScreenshotCaptured)
}

func TestListAndStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	a, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 1, Input: "0"})
	require.NoError(t, err)
	b, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 2, Input: "1"})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	require.Len(t, h.m.List(), 2)
	require.Eventually(t, func() bool {
		st, err := h.m.Status(b.ID)
		return err == nil && st.State == pipeline.StateRunning
	}, waitFor, 5*time.Millisecond)
	st, err := h.m.Status(b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, st.CameraID)

	_, err = h.m.Status("missing")
	require.ErrorIs(t, err, camera.ErrSessionNotFound)
}

func TestPacingWaitsOneFrameInterval(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	h := newHarness(t, nil, func(d *pipeline.Deps) { d.Clock = clock })
	h.opener.FPSRate = 10
	h.opener.Preload = 3

	st, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 1, Input: "0"})
	require.NoError(t, err)

	// 第一帧处理完后进入 100ms 的节拍等待
	bctx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	h.waitFrames(t, st.ID, 1)

	clock.Advance(99 * time.Millisecond)
	require.Never(t, func() bool {
		s, err := h.m.Status(st.ID)
		return err != nil || s.FramesProcessed > 1
	}, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Millisecond)
	h.waitFrames(t, st.ID, 2)

	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	clock.Advance(100 * time.Millisecond)
	h.waitFrames(t, st.ID, 3)
}

func TestStalledSourceDoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	a, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 1, Input: "0"})
	require.NoError(t, err)
	stalled := h.opener.Last()
	stalled.Stall()
	t.Cleanup(stalled.Resume)

	b, err := h.m.Connect(ctx, pipeline.ConnectInput{CameraID: 2, Input: "1"})
	require.NoError(t, err)
	log := &packetLog{}
	cancel, err := h.m.Subscribe(b.ID, log)
	require.NoError(t, err)
	defer cancel()

	h.opener.Last().Push(5)
	require.Eventually(t, func() bool { return len(log.snapshot()) == 5 }, waitFor, 5*time.Millisecond)
	for _, pkt := range log.snapshot() {
		require.Equal(t, b.ID, pkt.SessionID)
	}

	sa, err := h.m.Status(a.ID)
	require.NoError(t, err)
	require.Zero(t, sa.FramesProcessed)
	require.Equal(t, pipeline.StateRunning, sa.State)
}

func TestConnectDuringShutdown(t *testing.T) {
	h := newHarness(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.opener.Accept = func(camera.Descriptor) bool {
		once.Do(func() { close(entered) })
		<-release
		return true
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.m.Connect(context.Background(), pipeline.ConnectInput{CameraID: 1, Input: "0"})
		errCh <- err
	}()

	<-entered
	require.NoError(t, h.m.Shutdown(context.Background()))
	close(release)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, pipeline.ErrSessionClosed)
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}
	require.True(t, h.opener.Last().Closed())
	require.Zero(t, h.registry.Len())
	require.Empty(t, h.m.List())
	require.NotContains(t, h.notes.seen(), notify.TypeCameraConnected)

	_, err := h.m.Connect(context.Background(), pipeline.ConnectInput{CameraID: 1, Input: "0"})
	require.ErrorIs(t, err, pipeline.ErrSessionClosed)
}
