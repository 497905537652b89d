package task

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a calendar duration in the iCalendar DURATION format, such as
// "P1W", "PT90M" or "-P1DT12H".
type Duration struct {
	Negative bool
	Weeks    int
	Days     int
	Hours    int
	Minutes  int
	Seconds  int
}

// A week duration stands alone; RFC 5545 does not combine W with D or T parts.
var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W|(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?)$`)

// ParseDuration parses an iCalendar duration.
func ParseDuration(s string) (Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "+P" || s == "-P" || strings.HasSuffix(s, "T") {
		return Duration{}, fmt.Errorf("invalid duration %q", s)
	}
	var d Duration
	d.Negative = m[1] == "-"
	parts := []*int{&d.Weeks, &d.Days, &d.Hours, &d.Minutes, &d.Seconds}
	for i, p := range parts {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*p = n
	}
	return d, nil
}

// String formats d in iCalendar form.
func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.Weeks > 0 {
		fmt.Fprintf(&b, "%dW", d.Weeks)
	}
	if d.Days > 0 {
		fmt.Fprintf(&b, "%dD", d.Days)
	}
	if d.Hours > 0 || d.Minutes > 0 || d.Seconds > 0 {
		b.WriteByte('T')
		if d.Hours > 0 {
			fmt.Fprintf(&b, "%dH", d.Hours)
		}
		if d.Minutes > 0 {
			fmt.Fprintf(&b, "%dM", d.Minutes)
		}
		if d.Seconds > 0 {
			fmt.Fprintf(&b, "%dS", d.Seconds)
		}
	}
	if b.Len() == 1 || (d.Negative && b.Len() == 2) {
		b.WriteString("T0S")
	}
	return b.String()
}

// IsZero reports whether d spans no time.
func (d Duration) IsZero() bool {
	return d.Weeks == 0 && d.Days == 0 && d.clock() == 0
}

// Nominal returns d as a fixed length, counting a day as 24 hours.
func (d Duration) Nominal() time.Duration {
	total := time.Duration(d.Weeks*7+d.Days)*24*time.Hour + d.clock()
	if d.Negative {
		return -total
	}
	return total
}

func (d Duration) clock() time.Duration {
	return time.Duration(d.Hours)*time.Hour + time.Duration(d.Minutes)*time.Minute + time.Duration(d.Seconds)*time.Second
}
