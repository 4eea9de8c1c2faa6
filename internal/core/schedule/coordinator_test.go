package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/schedule"
	"github.com/gowvp/thermalstream/internal/core/schedule/store/scheduledb"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 2024-03-04 是星期一
var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type publisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *publisher) Publish(ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *publisher) opens() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Data["open"].(bool))
	}
	return out
}

func newCore(t *testing.T) schedule.Core {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return schedule.NewCore(scheduledb.NewDB(db).AutoMigrate(true), clockwork.NewFakeClockAt(monday))
}

func addSchedule(t *testing.T, core schedule.Core, in schedule.AddScheduleInput) *schedule.Schedule {
	t.Helper()
	s, err := core.AddSchedule(context.Background(), &in)
	require.NoError(t, err)
	return s
}

func newCoordinator(t *testing.T, core schedule.Core, now time.Time) (*schedule.Coordinator, *clockwork.FakeClock, *publisher) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	pub := &publisher{}
	c := schedule.NewCoordinator(core,
		schedule.WithCoordinatorClock(clock),
		schedule.WithLocation(time.UTC),
		schedule.WithTickInterval(time.Minute),
		schedule.WithPublisher(pub),
	)
	return c, clock, pub
}

func TestActiveScheduleForInclusiveWindow(t *testing.T) {
	core := newCore(t)
	addSchedule(t, core, schedule.AddScheduleInput{CameraID: 1, Days: []string{"Monday"}, StartTime: "09:00", EndTime: "17:00", Enabled: true})
	c, _, _ := newCoordinator(t, core, monday)
	ctx := context.Background()

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"monday start", at(monday, 9, 0), true},
		{"monday end", at(monday, 17, 0), true},
		{"monday end within the minute", at(monday, 17, 0).Add(45 * time.Second), true},
		{"monday before start", at(monday, 8, 59), false},
		{"monday after end", at(monday, 17, 1), false},
		{"tuesday inside hours", at(monday.AddDate(0, 0, 1), 9, 30), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := c.ActiveScheduleFor(ctx, 1, tc.now)
			require.NoError(t, err)
			require.Equal(t, tc.want, s != nil)
		})
	}

	s, err := c.ActiveScheduleFor(ctx, 2, at(monday, 10, 0))
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestActiveScheduleForFirstMatchWins(t *testing.T) {
	core := newCore(t)
	addSchedule(t, core, schedule.AddScheduleInput{CameraID: 1, Name: "off", Days: []string{"Monday"}, StartTime: "08:00", EndTime: "12:00"})
	first := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 1, Name: "morning", Days: []string{"mon", "Tue"}, StartTime: "08:00", EndTime: "12:00", Enabled: true})
	addSchedule(t, core, schedule.AddScheduleInput{CameraID: 1, Name: "late morning", Days: []string{"Monday"}, StartTime: "10:00", EndTime: "11:00", Enabled: true})
	require.Equal(t, []string{"Monday", "Tuesday"}, first.Days)

	c, _, _ := newCoordinator(t, core, monday)
	s, err := c.ActiveScheduleFor(context.Background(), 1, at(monday, 10, 30))
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, first.ID, s.ID)
}

func TestCoordinatorTriggers(t *testing.T) {
	core := newCore(t)
	s := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, UserID: 9, Days: []string{"Monday"}, StartTime: "09:00", EndTime: "09:30", Enabled: true})
	c, _, pub := newCoordinator(t, core, at(monday, 8, 0))

	require.True(t, c.Add(context.Background(), s.ID))
	require.Equal(t, 1, c.Armed())
	require.False(t, c.IsRecordingDesired(5))

	c.Fire(at(monday, 8, 59))
	require.False(t, c.IsRecordingDesired(5))

	c.Fire(at(monday, 9, 0))
	require.True(t, c.IsRecordingDesired(5))

	c.Fire(at(monday, 9, 29))
	require.True(t, c.IsRecordingDesired(5))

	c.Fire(at(monday, 9, 30))
	require.False(t, c.IsRecordingDesired(5))

	// 下周一再次打开
	c.Fire(at(monday.AddDate(0, 0, 7), 9, 5))
	require.True(t, c.IsRecordingDesired(5))

	require.Equal(t, []bool{true, false, true}, pub.opens())
	require.EqualValues(t, 9, pub.events[0].UserID)
	require.Equal(t, notify.TypeScheduleWindow, pub.events[0].Type)
}

func TestCoordinatorCatchesUpMissedWindow(t *testing.T) {
	core := newCore(t)
	s := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, Days: []string{"Monday"}, StartTime: "09:00", EndTime: "09:30", Enabled: true})
	c, _, pub := newCoordinator(t, core, at(monday, 8, 0))
	require.True(t, c.Add(context.Background(), s.ID))

	c.Fire(at(monday, 12, 0))
	require.False(t, c.IsRecordingDesired(5))
	require.Equal(t, []bool{true, false}, pub.opens())
}

func TestCoordinatorArmsInsideWindow(t *testing.T) {
	core := newCore(t)
	addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, Days: []string{"Monday"}, StartTime: "09:00", EndTime: "17:00", Enabled: true})
	c, _, _ := newCoordinator(t, core, at(monday, 12, 0))

	require.Equal(t, 1, c.ReloadAll(context.Background()))
	require.True(t, c.IsRecordingDesired(5))

	c.Fire(at(monday, 17, 0))
	require.False(t, c.IsRecordingDesired(5))
}

func TestCoordinatorOverlappingSchedulesKeepWindowOpen(t *testing.T) {
	core := newCore(t)
	a := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, Days: []string{"Monday"}, StartTime: "09:00", EndTime: "10:00", Enabled: true})
	b := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, Days: []string{"Monday"}, StartTime: "09:30", EndTime: "11:00", Enabled: true})
	c, _, _ := newCoordinator(t, core, at(monday, 8, 0))
	ctx := context.Background()
	require.True(t, c.Add(ctx, a.ID))
	require.True(t, c.Add(ctx, b.ID))

	c.Fire(at(monday, 10, 30))
	require.True(t, c.IsRecordingDesired(5))

	c.Remove(b.ID)
	require.False(t, c.IsRecordingDesired(5))
}

func TestCoordinatorArmingFailures(t *testing.T) {
	core := newCore(t)
	disabled := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, Days: []string{"Friday"}, StartTime: "09:00", EndTime: "10:00"})
	c, _, _ := newCoordinator(t, core, at(monday, 8, 0))
	ctx := context.Background()

	require.False(t, c.Add(ctx, 404))
	require.False(t, c.Add(ctx, disabled.ID))
	require.Zero(t, c.Armed())

	c.Remove(404)
	require.Zero(t, c.Armed())
}

func TestCoordinatorDisarmsOnDisable(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	s := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, Days: []string{"Monday"}, StartTime: "09:00", EndTime: "17:00", Enabled: true})
	c, _, _ := newCoordinator(t, core, at(monday, 12, 0))
	require.True(t, c.Add(ctx, s.ID))
	require.True(t, c.IsRecordingDesired(5))

	_, err := core.EditSchedule(ctx, &schedule.EditScheduleInput{CameraID: 5, Days: s.Days, StartTime: "09:00", EndTime: "17:00", Enabled: false}, s.ID)
	require.NoError(t, err)
	require.False(t, c.Add(ctx, s.ID))
	require.False(t, c.IsRecordingDesired(5))
	require.Zero(t, c.Armed())
}

func TestCoordinatorRunUsesClock(t *testing.T) {
	core := newCore(t)
	s := addSchedule(t, core, schedule.AddScheduleInput{CameraID: 5, Days: []string{"Monday"}, StartTime: "09:00", EndTime: "09:30", Enabled: true})
	c, clock, _ := newCoordinator(t, core, at(monday, 8, 58))
	require.True(t, c.Add(context.Background(), s.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return c.IsRecordingDesired(5) }, time.Second, 5*time.Millisecond)
}

func TestAddScheduleValidation(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()

	_, err := core.AddSchedule(ctx, &schedule.AddScheduleInput{CameraID: 1, Days: []string{"Funday"}, StartTime: "09:00", EndTime: "10:00"})
	require.Error(t, err)
	_, err = core.AddSchedule(ctx, &schedule.AddScheduleInput{CameraID: 1, Days: []string{"Monday"}, StartTime: "25:00", EndTime: "10:00"})
	require.Error(t, err)

	enabled := true
	items, total, err := core.FindSchedules(ctx, &schedule.FindScheduleInput{PagerFilter: web.PagerFilter{Page: 1, Size: 10}, Enabled: &enabled})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, items)
}
