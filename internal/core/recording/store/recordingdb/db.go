package recordingdb

import (
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/gowvp/thermalstream/internal/data"
	"gorm.io/gorm"
)

var _ recording.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Recording Get business instance
func (d DB) Recording() recording.RecordingStorer {
	return data.NewTable[recording.Recording](d.db)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if err := data.NewTable[recording.Recording](d.db).AutoMigrate(ok); err != nil {
		panic(err)
	}
	return d
}
