package task

import (
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"
)

// RRule is a parsed RFC 5545 recurrence rule.
type RRule struct {
	raw    string
	option *rrule.ROption
}

// ParseRRule parses a rule with or without the "RRULE:" prefix.
func ParseRRule(s string) (RRule, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "RRULE:")
	if raw == "" {
		return RRule{}, fmt.Errorf("empty recurrence rule")
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return RRule{}, fmt.Errorf("invalid recurrence rule %q: %w", s, err)
	}
	return RRule{raw: raw, option: opt}, nil
}

func (r RRule) String() string { return r.raw }

// Frequency returns the rule frequency, e.g. "DAILY".
func (r RRule) Frequency() string {
	if r.option == nil {
		return ""
	}
	return r.option.Freq.String()
}
