package domain

import (
	"fmt"
	"time"
)

// WeekKey returns the ISO year+week of t as "2006-W01".
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
