package task

import (
	"fmt"
	"time"

	// Zone names validate the same on hosts without a zoneinfo database.
	_ "time/tzdata"
)

type columnKind int

const (
	kindInt columnKind = iota
	kindText
	kindDuration
	kindRRule
	kindURL
	kindZone
)

var columnKinds = map[string]columnKind{
	ColListID:                 kindInt,
	ColUID:                    kindText,
	ColSyncID:                 kindText,
	ColSyncVersion:            kindText,
	ColDirty:                  kindInt,
	ColTitle:                  kindText,
	ColDescription:            kindText,
	ColLocation:               kindText,
	ColURL:                    kindURL,
	ColDTStart:                kindInt,
	ColTZ:                     kindZone,
	ColAllDay:                 kindInt,
	ColDue:                    kindInt,
	ColDuration:               kindDuration,
	ColRRule:                  kindRRule,
	ColStatus:                 kindInt,
	ColPercentComplete:        kindInt,
	ColPriority:               kindInt,
	ColClassification:         kindInt,
	ColCompleted:              kindInt,
	ColCreated:                kindInt,
	ColLastModified:           kindInt,
	ColOriginalInstanceID:     kindInt,
	ColOriginalInstanceSyncID: kindText,
	ColOriginalInstanceTime:   kindInt,
	ColParentID:               kindInt,
	ColPinned:                 kindInt,
}

// Known reports whether column may appear in a caller overlay.
func Known(column string) bool {
	if _, ok := columnKinds[column]; ok {
		return true
	}
	for _, s := range SyncSlots {
		if s == column {
			return true
		}
	}
	return column == PseudoUpdateRequested
}

// CheckValue returns an error when v cannot be stored in column. Nil is
// always accepted; unknown columns are the caller's concern.
func CheckValue(column string, v any) error {
	if v == nil {
		return nil
	}
	kind, ok := columnKinds[column]
	if !ok {
		return nil
	}
	switch kind {
	case kindInt:
		if _, ok := asInt64(v); !ok {
			return fmt.Errorf("expected an integer, got %T", v)
		}
	case kindText:
		if _, ok := asString(v); !ok {
			return fmt.Errorf("expected text, got %T", v)
		}
	case kindDuration:
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("expected a duration, got %T", v)
		}
		if _, err := ParseDuration(s); err != nil {
			return err
		}
	case kindRRule:
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("expected a recurrence rule, got %T", v)
		}
		if _, err := ParseRRule(s); err != nil {
			return err
		}
	case kindZone:
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("expected a time zone, got %T", v)
		}
		if s == "" {
			return nil
		}
		if _, err := time.LoadLocation(s); err != nil {
			return fmt.Errorf("unknown time zone %q", s)
		}
	case kindURL:
		s, ok := asString(v)
		if !ok {
			return fmt.Errorf("expected a URL, got %T", v)
		}
		if _, ok := URL.From(Values{ColURL: s}); !ok {
			return fmt.Errorf("invalid URL %q", s)
		}
	}
	return nil
}
