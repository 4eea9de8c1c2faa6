package recording

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

// StartCleanupWorker 按保留天数清理录像，启动时执行一次，随后每小时一次
func (c Core) StartCleanupWorker(ctx context.Context) {
	if c.conf == nil || c.conf.RetainDays <= 0 {
		slog.Info("recording cleanup disabled")
		return
	}
	slog.Info("recording cleanup worker started", "retain_days", c.conf.RetainDays, "storage_dir", c.StorageDir())

	c.CleanupExpired(ctx)

	ticker := c.clock.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.CleanupExpired(ctx)
		}
	}
}

// CleanupExpired 删除超过保留天数的录像（文件+记录），返回删除的记录数
func (c Core) CleanupExpired(ctx context.Context) int {
	if c.conf == nil || c.conf.RetainDays <= 0 {
		return 0
	}
	cutoff := c.clock.Now().AddDate(0, 0, -c.conf.RetainDays)

	deleted, files, failed, freed := c.batchDeleteRecordings(ctx, orm.Where("started_at < ?", orm.Time{Time: cutoff}))
	if deleted > 0 || failed > 0 {
		slog.Info("expired recording cleanup completed",
			"retain_days", c.conf.RetainDays,
			"cutoff_time", cutoff.Format(time.DateTime),
			"recordings_deleted", deleted,
			"files_deleted", files,
			"failed_files", failed,
			"freed_bytes", freed,
		)
	}
	return deleted
}

// batchDeleteRecordings 分批删除录像文件与数据库记录
func (c Core) batchDeleteRecordings(ctx context.Context, conditions ...orm.QueryOption) (totalDeleted, filesDeleted, failedFiles int, freedBytes int64) {
	const batchSize = 100

	for {
		var recordings []*Recording
		pager := web.PagerFilter{Page: 1, Size: batchSize}
		_, err := c.store.Recording().Find(ctx, &recordings, &pager, conditions...)
		if err != nil || len(recordings) == 0 {
			break
		}

		deleteIDs := make([]int64, 0, len(recordings))
		for _, rec := range recordings {
			if err := os.Remove(c.GetFullPath(rec.Path)); err != nil {
				if !os.IsNotExist(err) {
					failedFiles++
				}
			} else {
				filesDeleted++
				freedBytes += rec.Size
			}
			deleteIDs = append(deleteIDs, rec.ID)
		}

		err = c.store.Recording().Session(ctx, func(tx *gorm.DB) error {
			return tx.Where("id IN ?", deleteIDs).Delete(&Recording{}).Error
		})
		if err != nil {
			slog.Warn("batch delete recordings", "count", len(deleteIDs), "err", err)
			break
		}
		totalDeleted += len(deleteIDs)
	}

	cleanupEmptyDirs(c.StorageDir())
	return
}

// cleanupEmptyDirs 递归删除空目录
func cleanupEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subDir := filepath.Join(dir, entry.Name())
		cleanupEmptyDirs(subDir)
		if subEntries, err := os.ReadDir(subDir); err == nil && len(subEntries) == 0 {
			_ = os.Remove(subDir)
		}
	}
}
