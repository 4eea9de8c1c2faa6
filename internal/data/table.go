package data

import (
	"context"

	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// Table 单表通用存储实现，各领域 store 包以具体类型实例化
type Table[T any] struct {
	db *gorm.DB
}

func NewTable[T any](db *gorm.DB) Table[T] {
	return Table[T]{db: db}
}

func apply(db *gorm.DB, opts []orm.QueryOption) *gorm.DB {
	for _, fn := range opts {
		db = fn(db)
	}
	return db
}

// Find 分页查询，pager 为 nil 时不分页
func (t Table[T]) Find(ctx context.Context, bs *[]*T, pager orm.Pager, opts ...orm.QueryOption) (int64, error) {
	var total int64
	if err := apply(t.db.WithContext(ctx).Model(new(T)), opts).Count(&total).Error; err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	db := apply(t.db.WithContext(ctx).Model(new(T)), opts)
	if pager != nil {
		db = db.Offset(pager.Offset()).Limit(pager.Limit())
	}
	return total, db.Find(bs).Error
}

// Get 查询单条，不存在时返回 gorm.ErrRecordNotFound
func (t Table[T]) Get(ctx context.Context, b *T, opts ...orm.QueryOption) error {
	return apply(t.db.WithContext(ctx), opts).First(b).Error
}

func (t Table[T]) Add(ctx context.Context, b *T) error {
	return t.db.WithContext(ctx).Create(b).Error
}

// Edit 事务内先读后改再保存
func (t Table[T]) Edit(ctx context.Context, b *T, changeFn func(*T) error, opts ...orm.QueryOption) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return t.EditWithSession(tx, b, changeFn, opts...)
	})
}

// EditWithSession 在调用方的事务中修改
func (t Table[T]) EditWithSession(tx *gorm.DB, b *T, changeFn func(*T) error, opts ...orm.QueryOption) error {
	if err := apply(tx, opts).First(b).Error; err != nil {
		return err
	}
	if err := changeFn(b); err != nil {
		return err
	}
	return tx.Save(b).Error
}

// Del 删除前先读出，便于返回被删除的记录
func (t Table[T]) Del(ctx context.Context, b *T, opts ...orm.QueryOption) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := apply(tx, opts).First(b).Error; err != nil {
			return err
		}
		return apply(tx, opts).Delete(new(T)).Error
	})
}

func (t Table[T]) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	var total int64
	err := apply(t.db.WithContext(ctx).Model(new(T)), opts).Count(&total).Error
	return total, err
}

// Session 事务中依次执行
func (t Table[T]) Session(ctx context.Context, changeFns ...func(*gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range changeFns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// AutoMigrate 建表
func (t Table[T]) AutoMigrate(ok bool) error {
	if !ok {
		return nil
	}
	return t.db.AutoMigrate(new(T))
}
