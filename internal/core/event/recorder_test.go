package event_test

import (
	"context"
	"image"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/core/event"
	"github.com/gowvp/thermalstream/internal/core/event/store/eventdb"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func newCore(t *testing.T, clock clockwork.Clock) (event.Core, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	dir := t.TempDir()
	return event.NewCore(eventdb.NewDB(db).AutoMigrate(true), dir, clock), dir
}

func frame() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, 160, 120))
}

func TestRecorderPersistsDetections(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	core, dir := newCore(t, clock)
	rec := event.NewRecorder(core, detect.NewOverlay(dir, clock), 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	ok := rec.Enqueue(event.Job{
		Frame: frame(),
		Detections: []detect.Detection{
			{ClassID: 0, ClassName: "person", Confidence: 0.9, BBox: detect.BBox{X1: 10, Y1: 10, X2: 50, Y2: 80}},
			{ClassID: 16, ClassName: "dog", Confidence: 0.7, BBox: detect.BBox{X1: 60, Y1: 60, X2: 100, Y2: 110}},
		},
		CameraID:  3,
		UserID:    7,
		SessionID: "s1",
		At:        t0,
	})
	require.True(t, ok)
	require.Eventually(t, func() bool { return rec.Saved() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	items, total, err := core.FindEvents(context.Background(), &event.FindEventInput{
		PagerFilter: web.PagerFilter{Page: 1, Size: 10},
		CameraID:    3,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	for _, it := range items {
		require.Equal(t, "s1", it.SessionID)
		require.NotEmpty(t, it.ImagePath)
		_, err := os.Stat(it.ImagePath)
		require.NoError(t, err)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	core, _ := newCore(t, clockwork.NewFakeClockAt(t0))
	rec := event.NewRecorder(core, nil, 1)
	var drops int
	rec.OnDrop = func() { drops++ }

	require.True(t, rec.Enqueue(event.Job{CameraID: 1}))
	require.False(t, rec.Enqueue(event.Job{CameraID: 1}))
	require.EqualValues(t, 1, rec.Dropped())
	require.Equal(t, 1, drops)
}

func TestRecorderDrainsOnStop(t *testing.T) {
	core, _ := newCore(t, clockwork.NewFakeClockAt(t0))
	rec := event.NewRecorder(core, nil, 8)
	for range 3 {
		require.True(t, rec.Enqueue(event.Job{
			CameraID:   1,
			Detections: []detect.Detection{{ClassID: 2, ClassName: "car", Confidence: 0.8, BBox: detect.BBox{X1: 1, Y1: 1, X2: 2, Y2: 2}}},
			At:         t0,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)
	require.EqualValues(t, 3, rec.Saved())
}

func TestCleanupExpiredEvents(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	core, dir := newCore(t, clock)

	img := dir + "/old.jpg"
	require.NoError(t, os.WriteFile(img, []byte("jpg"), 0o644))
	_, err := core.AddEvent(ctx, &event.AddEventInput{CameraID: 1, Label: "cat", ImagePath: img, StartedAt: orm.Time{Time: t0.AddDate(0, 0, -30)}})
	require.NoError(t, err)
	_, err = core.AddEvent(ctx, &event.AddEventInput{CameraID: 1, Label: "cat", StartedAt: orm.Time{Time: t0.Add(-time.Minute)}})
	require.NoError(t, err)

	require.Equal(t, 1, core.CleanupExpired(ctx, 7))
	_, err = os.Stat(img)
	require.True(t, os.IsNotExist(err))

	_, total, err := core.FindEvents(ctx, &event.FindEventInput{PagerFilter: web.PagerFilter{Page: 1, Size: 10}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}
