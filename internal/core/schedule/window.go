package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoDays      = errors.New("schedule has no valid weekday")
	ErrInvalidTime = errors.New("invalid time of day")
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekday 接受英文全称或三字母缩写，不区分大小写
func ParseWeekday(s string) (time.Weekday, bool) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// ParseClock 解析 HH:MM，返回当天的分钟数
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return h*60 + m, nil
}

// NormalizeDays 规范为 Monday 形式并去重，无法识别的名称被忽略
func NormalizeDays(days []string) []string {
	var seen [7]bool
	out := make([]string, 0, len(days))
	for _, s := range days {
		d, ok := ParseWeekday(s)
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d.String())
	}
	return out
}

// window 解析后的时段，分钟精度
type window struct {
	days       [7]bool
	start, end int
}

func parseWindow(s *Schedule) (window, error) {
	var w window
	var n int
	for _, name := range s.Days {
		if d, ok := ParseWeekday(name); ok {
			w.days[d] = true
			n++
		}
	}
	if n == 0 {
		return w, ErrNoDays
	}
	var err error
	if w.start, err = ParseClock(s.StartTime); err != nil {
		return w, err
	}
	if w.end, err = ParseClock(s.EndTime); err != nil {
		return w, err
	}
	return w, nil
}

// contains 当天星期在集合内，且时分落在 [start,end]，两端都包含
// 跨午夜的时段 (start>end) 不会命中
func (w window) contains(t time.Time) bool {
	if !w.days[t.Weekday()] {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return w.start <= m && m <= w.end
}

// next 严格晚于 from、星期在集合内、时分为 minute 的最近时刻
func (w window) next(from time.Time, minute int) time.Time {
	y, mo, d := from.Date()
	for i := 0; i <= 7; i++ {
		at := time.Date(y, mo, d+i, minute/60, minute%60, 0, 0, from.Location())
		if w.days[at.Weekday()] && at.After(from) {
			return at
		}
	}
	// days 非空时不可达
	return time.Time{}
}
