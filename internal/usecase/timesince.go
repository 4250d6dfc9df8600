package usecase

import (
	"strconv"
	"time"
)

// TimeSince renders the gap between from and to in whole minutes, hours or
// days, rounding down.
func TimeSince(from, to time.Time) string {
	d := to.Sub(from)
	if d < 0 {
		return "in the future"
	}
	mins := int64(d / time.Minute)
	if mins < 60 {
		return plural(mins, "minute")
	}
	hours := mins / 60
	if hours < 24 {
		return plural(hours, "hour")
	}
	return plural(hours/24, "day")
}

func plural(n int64, unit string) string {
	s := strconv.FormatInt(n, 10) + " " + unit
	if n != 1 {
		s += "s"
	}
	return s
}
