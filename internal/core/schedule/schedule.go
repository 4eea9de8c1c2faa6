package schedule

import (
	"context"
	"log/slog"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// ScheduleStorer Instantiation interface
type ScheduleStorer interface {
	Find(context.Context, *[]*Schedule, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Schedule, ...orm.QueryOption) error
	Add(context.Context, *Schedule) error
	Edit(context.Context, *Schedule, func(*Schedule) error, ...orm.QueryOption) error
	Del(context.Context, *Schedule, ...orm.QueryOption) error

	Session(context.Context, ...func(*gorm.DB) error) error
}

// FindSchedules Paginated search
func (c Core) FindSchedules(ctx context.Context, in *FindScheduleInput) ([]*Schedule, int64, error) {
	query := orm.NewQuery(3).OrderBy("id ASC")
	if in.CameraID > 0 {
		query.Where("camera_id = ?", in.CameraID)
	}
	if in.UserID > 0 {
		query.Where("user_id = ?", in.UserID)
	}
	if in.Enabled != nil {
		query.Where("enabled = ?", *in.Enabled)
	}

	items := make([]*Schedule, 0, in.Limit())
	total, err := c.store.Schedule().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// FindEnabled 按 id 升序返回启用的计划，cameraID 为 0 时返回全部
func (c Core) FindEnabled(ctx context.Context, cameraID int64) ([]*Schedule, error) {
	query := orm.NewQuery(2).Where("enabled = ?", true).OrderBy("id ASC")
	if cameraID > 0 {
		query.Where("camera_id = ?", cameraID)
	}
	items := make([]*Schedule, 0, 8)
	if _, err := c.store.Schedule().Find(ctx, &items, nil, query.Encode()...); err != nil {
		return nil, reason.ErrDB.Withf(`FindEnabled camera[%d] err[%s]`, cameraID, err.Error())
	}
	return items, nil
}

// GetSchedule Query a single object
func (c Core) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	var out Schedule
	if err := c.store.Schedule().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// AddSchedule Insert into database
func (c Core) AddSchedule(ctx context.Context, in *AddScheduleInput) (*Schedule, error) {
	var out Schedule
	if err := copier.Copy(&out, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	if err := normalize(&out); err != nil {
		return nil, err
	}
	now := orm.Time{Time: c.clock.Now()}
	out.CreatedAt, out.UpdatedAt = now, now
	if err := c.store.Schedule().Add(ctx, &out); err != nil {
		return nil, reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}
	return &out, nil
}

// EditSchedule Update object information
func (c Core) EditSchedule(ctx context.Context, in *EditScheduleInput, id int64) (*Schedule, error) {
	var want Schedule
	if err := copier.Copy(&want, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	if err := normalize(&want); err != nil {
		return nil, err
	}

	var out Schedule
	err := c.store.Schedule().Edit(ctx, &out, func(b *Schedule) error {
		b.CameraID = want.CameraID
		b.Name = want.Name
		b.Days = want.Days
		b.StartTime, b.EndTime = want.StartTime, want.EndTime
		b.Enabled = want.Enabled
		b.UpdatedAt = orm.Time{Time: c.clock.Now()}
		return nil
	}, orm.Where("id=?", id))
	if err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Edit id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Edit err[%s]`, err.Error())
	}
	return &out, nil
}

// DelSchedule Delete object
func (c Core) DelSchedule(ctx context.Context, id int64) (*Schedule, error) {
	var out Schedule
	if err := c.store.Schedule().Del(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Del id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Del err[%s]`, err.Error())
	}
	return &out, nil
}

// normalize 校验时段并统一星期写法
func normalize(s *Schedule) error {
	s.Days = NormalizeDays(s.Days)
	if _, err := parseWindow(s); err != nil {
		return reason.ErrBadRequest.Withf(`schedule days[%v] start[%s] end[%s]: %s`, s.Days, s.StartTime, s.EndTime, err.Error())
	}
	return nil
}
