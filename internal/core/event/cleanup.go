package event

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

// StartCleanupWorker 每天清理一次超过保留天数的事件，启动时先执行一次
func (c Core) StartCleanupWorker(ctx context.Context, days int) {
	if days <= 0 {
		slog.Info("event cleanup disabled", "days", days)
		return
	}
	slog.Info("event cleanup worker started", "retain_days", days)

	c.CleanupExpired(ctx, days)

	ticker := c.clock.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.CleanupExpired(ctx, days)
		}
	}
}

// CleanupExpired 先删截图再删记录，返回删除的事件数
func (c Core) CleanupExpired(ctx context.Context, days int) int {
	cutoff := c.clock.Now().AddDate(0, 0, -days)
	const batchSize = 100
	totalDeleted, filesDeleted := 0, 0

	for {
		var events []*Event
		pager := web.PagerFilter{Page: 1, Size: batchSize}
		_, err := c.store.Event().Find(ctx, &events, &pager,
			orm.Where("started_at < ?", orm.Time{Time: cutoff}),
		)
		if err != nil {
			slog.Error("failed to query expired events", "err", err)
			break
		}
		if len(events) == 0 {
			break
		}

		// 同一帧的多个目标可能共用截图
		imagePaths := make(map[string]struct{})
		eventIDs := make([]int64, 0, len(events))
		for _, e := range events {
			eventIDs = append(eventIDs, e.ID)
			if e.ImagePath != "" {
				imagePaths[e.ImagePath] = struct{}{}
			}
		}

		for p := range imagePaths {
			full := p
			if !filepath.IsAbs(full) {
				full = filepath.Join(c.cropDir, p)
			}
			if err := os.Remove(full); err != nil {
				if !os.IsNotExist(err) {
					slog.Warn("failed to delete event image", "path", full, "err", err)
				}
			} else {
				filesDeleted++
			}
		}

		err = c.store.Event().Session(ctx, func(tx *gorm.DB) error {
			return tx.Where("id IN ?", eventIDs).Delete(&Event{}).Error
		})
		if err != nil {
			slog.Warn("failed to batch delete events", "count", len(eventIDs), "err", err)
			break
		}
		totalDeleted += len(eventIDs)
	}

	if totalDeleted > 0 {
		slog.Info("event cleanup completed", "events_deleted", totalDeleted, "files_deleted", filesDeleted)
	}
	return totalDeleted
}
