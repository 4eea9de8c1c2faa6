package recording

import (
	"context"
	"log/slog"
	"os"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// RecordingStorer Instantiation interface
type RecordingStorer interface {
	Find(context.Context, *[]*Recording, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Recording, ...orm.QueryOption) error
	Add(context.Context, *Recording) error
	Edit(context.Context, *Recording, func(*Recording) error, ...orm.QueryOption) error
	Del(context.Context, *Recording, ...orm.QueryOption) error
	Count(context.Context, ...orm.QueryOption) (int64, error)

	Session(context.Context, ...func(*gorm.DB) error) error
}

// FindRecordings 分页查询录像列表，支持摄像头、用户和时间范围筛选
func (c Core) FindRecordings(ctx context.Context, in *FindRecordingInput) ([]*Recording, int64, error) {
	query := orm.NewQuery(4).OrderBy("started_at DESC")
	if in.CameraID > 0 {
		query.Where("camera_id = ?", in.CameraID)
	}
	if in.UserID > 0 {
		query.Where("user_id = ?", in.UserID)
	}
	if in.IsScheduled != nil {
		query.Where("is_scheduled = ?", *in.IsScheduled)
	}
	if in.StartMs > 0 && in.EndMs > 0 {
		query.Where("started_at >= ? AND ended_at <= ?", in.StartAt(), in.EndAt())
	}

	items := make([]*Recording, 0, in.Limit())
	total, err := c.store.Recording().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetRecording Query a single object
func (c Core) GetRecording(ctx context.Context, id int64) (*Recording, error) {
	var out Recording
	if err := c.store.Recording().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// AddRecording 录像结束后写入元数据
func (c Core) AddRecording(ctx context.Context, in *AddRecordingInput) (*Recording, error) {
	var out Recording
	if err := copier.Copy(&out, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	out.CreatedAt = orm.Time{Time: c.clock.Now()}

	if err := c.store.Recording().Add(ctx, &out); err != nil {
		return nil, reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}
	return &out, nil
}

// DelRecording 删除记录，同时删除录像文件
func (c Core) DelRecording(ctx context.Context, id int64) (*Recording, error) {
	var out Recording
	if err := c.store.Recording().Del(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Del id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Del id[%v] err[%s]`, id, err.Error())
	}
	if err := os.Remove(c.GetFullPath(out.Path)); err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "remove recording file", "path", out.Path, "err", err)
	}
	return &out, nil
}

// FindCameraRecordings 按开始时间升序返回某摄像头在时间范围内的录像，用于生成播放列表
func (c Core) FindCameraRecordings(ctx context.Context, in *TimelineInput) ([]*Recording, error) {
	if in.CameraID <= 0 {
		return nil, reason.ErrBadRequest.Withf("camera_id is required")
	}
	query := orm.NewQuery(2).OrderBy("started_at ASC")
	query.Where("camera_id = ?", in.CameraID)
	if in.StartMs > 0 && in.EndMs > 0 {
		// 与时间范围有重叠的录像
		query.Where("started_at < ? AND ended_at > ?", in.EndAt(), in.StartAt())
	}

	var recordings []*Recording
	if _, err := c.store.Recording().Find(ctx, &recordings, &defaultPager{limit: 1000}, query.Encode()...); err != nil {
		return nil, reason.ErrDB.Withf(`FindCameraRecordings err[%s]`, err.Error())
	}
	return recordings, nil
}

// GetTimeline 时间轴数据
func (c Core) GetTimeline(ctx context.Context, in *TimelineInput) ([]TimeRange, error) {
	recordings, err := c.FindCameraRecordings(ctx, in)
	if err != nil {
		return nil, err
	}
	result := make([]TimeRange, 0, len(recordings))
	for _, r := range recordings {
		result = append(result, TimeRange{
			ID:          r.ID,
			StartMs:     r.StartedAt.UnixMilli(),
			EndMs:       r.EndedAt.UnixMilli(),
			Duration:    r.Duration,
			IsScheduled: r.IsScheduled,
		})
	}
	return result, nil
}

// defaultPager 内部使用的分页器，避免传入 nil 导致空指针
type defaultPager struct {
	limit int
}

func (p *defaultPager) Offset() int { return 0 }
func (p *defaultPager) Limit() int  { return p.limit }
