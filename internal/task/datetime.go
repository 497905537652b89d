package task

import (
	"time"
)

// DateTime is a stored point in time. Timestamp is in milliseconds since
// the epoch. An all-day value is a floating date at UTC midnight and has no
// time zone; a floating value has neither a zone nor the all-day flag.
type DateTime struct {
	Timestamp int64
	TimeZone  string
	AllDay    bool
}

// At returns a zoned DateTime for t.
func At(t time.Time) DateTime {
	return DateTime{Timestamp: t.UnixMilli(), TimeZone: zoneName(t.Location())}
}

// Date returns an all-day DateTime for the given calendar date.
func Date(year int, month time.Month, day int) DateTime {
	return DateTime{Timestamp: time.Date(year, month, day, 0, 0, 0, 0, time.UTC).UnixMilli(), AllDay: true}
}

// Floating returns true for values pinned to no zone.
func (d DateTime) Floating() bool { return d.TimeZone == "" }

// Location returns the zone of d, UTC for all-day, floating or unknown zones.
func (d DateTime) Location() *time.Location {
	if d.AllDay || d.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Time returns d as a time.Time in its zone.
func (d DateTime) Time() time.Time {
	return time.UnixMilli(d.Timestamp).In(d.Location())
}

// Add shifts d by dur. Weeks and days are nominal and keep the wall clock
// across zone offset changes; hours, minutes and seconds are exact.
func (d DateTime) Add(dur Duration) DateTime {
	t := d.Time()
	sign := 1
	if dur.Negative {
		sign = -1
	}
	t = t.AddDate(0, 0, sign*(dur.Weeks*7+dur.Days))
	t = t.Add(time.Duration(sign) * dur.clock())
	return DateTime{Timestamp: t.UnixMilli(), TimeZone: d.TimeZone, AllDay: d.AllDay}
}

// Sub returns the difference d - o in milliseconds.
func (d DateTime) Sub(o DateTime) int64 { return d.Timestamp - o.Timestamp }

// SortingValue returns the key used to order instances in local. Zoned
// values are shifted so that their wall clock in local reads as UTC; all-day
// and floating values keep their literal timestamp.
func (d DateTime) SortingValue(local *time.Location) int64 {
	if d.AllDay || d.Floating() {
		return d.Timestamp
	}
	if local == nil {
		local = time.UTC
	}
	w := time.UnixMilli(d.Timestamp).In(local)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), time.UTC).UnixMilli()
}

func zoneName(loc *time.Location) string {
	if loc == nil {
		return "UTC"
	}
	name := loc.String()
	if name == "Local" {
		return "UTC"
	}
	return name
}
