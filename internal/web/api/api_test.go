package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/gowvp/thermalstream/internal/conf"
	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/gowvp/thermalstream/internal/core/camera/camtest"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/core/event"
	"github.com/gowvp/thermalstream/internal/core/event/store/eventdb"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/pipeline"
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/gowvp/thermalstream/internal/core/recording/store/recordingdb"
	"github.com/gowvp/thermalstream/internal/core/schedule"
	"github.com/gowvp/thermalstream/internal/core/schedule/store/scheduledb"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testServer struct {
	handler http.Handler
	uc      *Usecase
	opener  *camtest.Opener
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	dir := t.TempDir()
	bc := conf.DefaultConfig()
	bc.Recording.StorageDir = dir
	bc.Recording.Format = string(recording.FormatMJPEG)
	bc.Pipeline.ScreenshotDir = dir

	clock := clockwork.NewRealClock()
	recCore := recording.NewCore(recordingdb.NewDB(db).AutoMigrate(true), recording.WithConfig(&bc.Recording))
	ledger, err := recording.NewLedger(recCore.StorageDir(), recording.FormatMJPEG)
	require.NoError(t, err)

	eventCore := event.NewCore(eventdb.NewDB(db).AutoMigrate(true), dir, clock)
	schCore := schedule.NewCore(scheduledb.NewDB(db).AutoMigrate(true), clock)
	hub := notify.NewHub(16, clock)
	coord := schedule.NewCoordinator(schCore, schedule.WithPublisher(hub))

	opener := &camtest.Opener{FPSRate: 100}
	registry := camera.NewRegistry(opener, camera.WithPullTimeout(20*time.Millisecond))
	overlay := detect.NewOverlay(dir, clock)
	manager := pipeline.NewManager(pipeline.Deps{
		Registry:   registry,
		Ledger:     ledger,
		Recordings: recCore,
		Schedules:  coord,
		Renderer:   overlay,
		Notifier:   hub,
	}, pipeline.Config{StopTimeout: 2 * time.Second, NoFrameBackoff: 5 * time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	uc := Usecase{
		Conf:         &bc,
		Manager:      manager,
		Ledger:       ledger,
		Coordinator:  coord,
		Hub:          hub,
		CameraAPI:    NewCameraAPI(manager, recCore, hub),
		ScheduleAPI:  NewScheduleAPI(schCore, coord),
		RecordingAPI: NewRecordingAPI(recCore),
		EventAPI:     NewEventAPI(eventCore),
	}
	return &testServer{handler: NewHTTPHandler(&uc), uc: &uc, opener: opener}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, out := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 0, out["sessions"])
}

func TestScheduleCRUDArmsCoordinator(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodPost, "/schedules", map[string]any{
		"camera_id": 1, "days_of_week": []string{"funday"}, "start_time": "09:00", "end_time": "17:00", "enabled": true,
	})
	require.GreaterOrEqual(t, w.Code, 400)
	require.Zero(t, s.uc.Coordinator.Armed())

	w, out := s.do(t, http.MethodPost, "/schedules", map[string]any{
		"camera_id": 1, "days_of_week": []string{"mon", "Fri"}, "start_time": "09:00", "end_time": "17:00", "enabled": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, []any{"Monday", "Friday"}, out["days_of_week"])
	require.Equal(t, 1, s.uc.Coordinator.Armed())
	id := int64(out["id"].(float64))

	w, _ = s.do(t, http.MethodPut, "/schedules/"+itoa(id), map[string]any{
		"camera_id": 1, "days_of_week": []string{"Monday"}, "start_time": "09:00", "end_time": "17:00", "enabled": false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Zero(t, s.uc.Coordinator.Armed())

	w, _ = s.do(t, http.MethodDelete, "/schedules/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/schedules/"+itoa(id), nil)
	require.GreaterOrEqual(t, w.Code, 400)
}

func TestCameraLifecycle(t *testing.T) {
	s := newTestServer(t)

	w, out := s.do(t, http.MethodPost, "/cameras/connect", map[string]any{"input": "0", "camera_id": 3, "user_id": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := out["id"].(string)
	require.NotEmpty(t, id)

	w, out = s.do(t, http.MethodGet, "/cameras", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, out["total"])

	w, out = s.do(t, http.MethodPut, "/cameras/"+id+"/detection", map[string]any{"enabled": true, "confidence": 0.7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, true, out["detection"])
	require.InDelta(t, 0.7, out["confidence"], 1e-9)

	w, _ = s.do(t, http.MethodPost, "/cameras/"+id+"/recording/stop", map[string]any{})
	require.GreaterOrEqual(t, w.Code, 400, "stop without an active recording")

	w, _ = s.do(t, http.MethodPost, "/cameras/"+id+"/disconnect", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Eventually(t, func() bool { return len(s.uc.Manager.List()) == 0 }, 3*time.Second, 10*time.Millisecond)
	require.True(t, s.opener.Last().Closed())

	w, _ = s.do(t, http.MethodPost, "/cameras/"+id+"/disconnect", map[string]any{})
	require.GreaterOrEqual(t, w.Code, 400)
}

func TestConnectRejectsEmptyInput(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodPost, "/cameras/connect", map[string]any{"input": ""})
	require.GreaterOrEqual(t, w.Code, 400)
	require.Empty(t, s.uc.Manager.List())
}

func TestPlaylist(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	core := s.uc.RecordingAPI.recordingCore
	t0 := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.mjpeg", "b.mjpeg"} {
		start := t0.Add(time.Duration(i) * time.Minute)
		_, err := core.AddRecording(ctx, &recording.AddRecordingInput{
			CameraID:  9,
			FileName:  name,
			Path:      core.GetFullPath(name),
			Duration:  60,
			StartedAt: ormTime(start),
			EndedAt:   ormTime(start.Add(time.Minute)),
		})
		require.NoError(t, err)
	}

	w, _ := s.do(t, http.MethodGet, "/recordings/cameras/9/index.m3u8", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := w.Body.String()
	require.Contains(t, body, "#EXTM3U")
	require.Contains(t, body, staticRecordings+"/a.mjpeg")
	require.Contains(t, body, staticRecordings+"/b.mjpeg")
	require.Equal(t, 1, strings.Count(body, "#EXT-X-DISCONTINUITY"))
	require.Contains(t, body, "#EXT-X-ENDLIST")

	w, _ = s.do(t, http.MethodGet, "/recordings/cameras/10/index.m3u8", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
