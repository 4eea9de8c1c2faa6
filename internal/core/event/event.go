package event

import (
	"context"
	"log/slog"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// EventStorer Instantiation interface
type EventStorer interface {
	Find(context.Context, *[]*Event, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Event, ...orm.QueryOption) error
	Add(context.Context, *Event) error
	Del(context.Context, *Event, ...orm.QueryOption) error
	Session(context.Context, ...func(*gorm.DB) error) error
}

// FindEvents 分页查询检测事件
func (c Core) FindEvents(ctx context.Context, in *FindEventInput) ([]*Event, int64, error) {
	query := orm.NewQuery(4).OrderBy("started_at DESC")
	if in.CameraID > 0 {
		query.Where("camera_id = ?", in.CameraID)
	}
	if in.UserID > 0 {
		query.Where("user_id = ?", in.UserID)
	}
	if in.Label != "" {
		query.Where("label = ?", in.Label)
	}
	if in.StartMs > 0 && in.EndMs > 0 {
		query.Where("started_at >= ? AND started_at <= ?", in.StartAt(), in.EndAt())
	}

	items := make([]*Event, 0, in.Limit())
	total, err := c.store.Event().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetEvent Query a single object
func (c Core) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var out Event
	if err := c.store.Event().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// AddEvent Insert into database
func (c Core) AddEvent(ctx context.Context, in *AddEventInput) (*Event, error) {
	var out Event
	if err := copier.Copy(&out, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	out.CreatedAt = orm.Time{Time: c.clock.Now()}
	if err := c.store.Event().Add(ctx, &out); err != nil {
		return nil, reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}
	return &out, nil
}
