package task

import (
	"net/url"
	"time"
)

type lookupFunc func(column string) (any, bool)

// Field is a typed accessor over one or more task columns.
type Field[T any] struct {
	column  string
	decode  func(get lookupFunc) (T, bool)
	encode  func(r *Record, v T)
	setNull func(r *Record)
	unset   func(r *Record)
}

// Column returns the primary column. IsUpdated keys off it.
func (f Field[T]) Column() string { return f.column }

// Get returns the effective value; ok is false when absent or null.
func (f Field[T]) Get(r *Record) (T, bool) { return f.decode(r.lookup) }

// Old returns the value from the stored snapshot.
func (f Field[T]) Old(r *Record) (T, bool) { return f.decode(r.lookupOld) }

// From decodes the value from a plain row.
func (f Field[T]) From(v Values) (T, bool) { return f.decode(v.Lookup) }

// IsUpdated reports whether the primary column is in the overlay.
func (f Field[T]) IsUpdated(r *Record) bool { return r.Updated(f.column) }

// Set writes v to the overlay.
func (f Field[T]) Set(r *Record, v T) { f.encode(r, v) }

// SetNull writes an explicit null to the overlay.
func (f Field[T]) SetNull(r *Record) { f.setNull(r) }

// Unset removes the pending write from the overlay.
func (f Field[T]) Unset(r *Record) { f.unset(r) }

func scalar[T any](column string, conv func(any) (T, bool), enc func(T) any) Field[T] {
	return Field[T]{
		column: column,
		decode: func(get lookupFunc) (T, bool) {
			raw, ok := get(column)
			if !ok || raw == nil {
				var zero T
				return zero, false
			}
			return conv(raw)
		},
		encode:  func(r *Record, v T) { r.Put(column, enc(v)) },
		setNull: func(r *Record) { r.Put(column, nil) },
		unset:   func(r *Record) { r.Remove(column) },
	}
}

// LongField accesses an integer column such as an id.
func LongField(column string) Field[int64] {
	return scalar(column, asInt64, func(v int64) any { return v })
}

// IntField accesses a small integer column.
func IntField(column string) Field[int] {
	return scalar(column, func(raw any) (int, bool) {
		n, ok := asInt64(raw)
		return int(n), ok
	}, func(v int) any { return int64(v) })
}

// BoolField accesses a 0/1 column.
func BoolField(column string) Field[bool] {
	return scalar(column, asBool, func(v bool) any {
		if v {
			return int64(1)
		}
		return int64(0)
	})
}

// StringField accesses a text column.
func StringField(column string) Field[string] {
	return scalar(column, asString, func(v string) any { return v })
}

// TimeField accesses a millisecond timestamp column without zone.
func TimeField(column string) Field[time.Time] {
	return scalar(column, func(raw any) (time.Time, bool) {
		ms, ok := asInt64(raw)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}, func(v time.Time) any { return v.UnixMilli() })
}

// DurationField accesses an iCalendar duration column.
func DurationField(column string) Field[Duration] {
	return scalar(column, func(raw any) (Duration, bool) {
		s, ok := asString(raw)
		if !ok {
			return Duration{}, false
		}
		d, err := ParseDuration(s)
		return d, err == nil
	}, func(v Duration) any { return v.String() })
}

// RRuleField accesses a recurrence rule column.
func RRuleField(column string) Field[RRule] {
	return scalar(column, func(raw any) (RRule, bool) {
		s, ok := asString(raw)
		if !ok {
			return RRule{}, false
		}
		r, err := ParseRRule(s)
		return r, err == nil
	}, func(v RRule) any { return v.String() })
}

// URLField accesses an absolute URL column.
func URLField(column string) Field[*url.URL] {
	return scalar(column, func(raw any) (*url.URL, bool) {
		s, ok := asString(raw)
		if !ok {
			return nil, false
		}
		u, err := url.Parse(s)
		if err != nil || !u.IsAbs() {
			return nil, false
		}
		return u, true
	}, func(v *url.URL) any { return v.String() })
}

// DateTimeField combines a timestamp, a zone and an all-day flag column.
// Writing a value writes all three; writing null clears only the timestamp.
func DateTimeField(tsColumn, tzColumn, allDayColumn string) Field[DateTime] {
	return Field[DateTime]{
		column: tsColumn,
		decode: func(get lookupFunc) (DateTime, bool) {
			raw, ok := get(tsColumn)
			if !ok || raw == nil {
				return DateTime{}, false
			}
			ms, ok := asInt64(raw)
			if !ok {
				return DateTime{}, false
			}
			d := DateTime{Timestamp: ms}
			if v, ok := get(allDayColumn); ok && v != nil {
				d.AllDay, _ = asBool(v)
			}
			if !d.AllDay {
				if v, ok := get(tzColumn); ok && v != nil {
					d.TimeZone, _ = asString(v)
				}
			}
			return d, true
		},
		encode: func(r *Record, v DateTime) {
			r.Put(tsColumn, v.Timestamp)
			if v.AllDay || v.TimeZone == "" {
				r.Put(tzColumn, nil)
			} else {
				r.Put(tzColumn, v.TimeZone)
			}
			if v.AllDay {
				r.Put(allDayColumn, int64(1))
			} else {
				r.Put(allDayColumn, int64(0))
			}
		},
		setNull: func(r *Record) { r.Put(tsColumn, nil) },
		unset: func(r *Record) {
			r.Remove(tsColumn)
		},
	}
}

// Task fields.
var (
	ID                     = LongField(ColID)
	ListID                 = LongField(ColListID)
	UID                    = StringField(ColUID)
	SyncID                 = StringField(ColSyncID)
	SyncVersion            = StringField(ColSyncVersion)
	Dirty                  = BoolField(ColDirty)
	Deleted                = BoolField(ColDeleted)
	Title                  = StringField(ColTitle)
	Description            = StringField(ColDescription)
	Location               = StringField(ColLocation)
	URL                    = URLField(ColURL)
	DTStart                = DateTimeField(ColDTStart, ColTZ, ColAllDay)
	Due                    = DateTimeField(ColDue, ColTZ, ColAllDay)
	TaskDuration           = DurationField(ColDuration)
	Recurrence             = RRuleField(ColRRule)
	TimeZone               = StringField(ColTZ)
	AllDay                 = BoolField(ColAllDay)
	Status                 = IntField(ColStatus)
	PercentComplete        = IntField(ColPercentComplete)
	Priority               = IntField(ColPriority)
	Classification         = IntField(ColClassification)
	Completed              = TimeField(ColCompleted)
	Created                = TimeField(ColCreated)
	LastModified           = TimeField(ColLastModified)
	OriginalInstanceID     = LongField(ColOriginalInstanceID)
	OriginalInstanceSyncID = StringField(ColOriginalInstanceSyncID)
	ParentID               = LongField(ColParentID)
	IsNew                  = BoolField(ColIsNew)
	IsClosed               = BoolField(ColIsClosed)
	AccountType            = StringField(ColAccountType)

	// UpdateRequested is a pseudo field consumed before commit.
	UpdateRequested = BoolField(PseudoUpdateRequested)
)

// IsRecurring reports whether the effective row carries a recurrence rule.
func IsRecurring(r *Record) bool {
	_, ok := Recurrence.Get(r)
	return ok
}
