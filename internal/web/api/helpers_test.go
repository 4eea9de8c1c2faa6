package api

import (
	"strconv"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func ormTime(t time.Time) orm.Time { return orm.Time{Time: t} }
