package eventdb

import (
	"github.com/gowvp/thermalstream/internal/core/event"
	"github.com/gowvp/thermalstream/internal/data"
	"gorm.io/gorm"
)

var _ event.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Event Get business instance
func (d DB) Event() event.EventStorer {
	return data.NewTable[event.Event](d.db)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if err := data.NewTable[event.Event](d.db).AutoMigrate(ok); err != nil {
		panic(err)
	}
	return d
}
