package scheduledb

import (
	"github.com/gowvp/thermalstream/internal/core/schedule"
	"github.com/gowvp/thermalstream/internal/data"
	"gorm.io/gorm"
)

var _ schedule.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Schedule Get business instance
func (d DB) Schedule() schedule.ScheduleStorer {
	return data.NewTable[schedule.Schedule](d.db)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if err := data.NewTable[schedule.Schedule](d.db).AutoMigrate(ok); err != nil {
		panic(err)
	}
	return d
}
