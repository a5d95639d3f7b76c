// Package timeutil provides the clock abstraction and the date helpers used by
// LMS operations. The LMS runs on Tehran time (UTC+3:30, no DST since 2022).
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// TehranTZ is the Tehran timezone.
var TehranTZ = time.FixedZone("Asia/Tehran", 3*60*60+30*60)

// Layouts accepted by the LMS for booking and reservation fields.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Clock abstracts time.Now so envelopes and token expiry can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant until advanced.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c *FixedClock) Now() time.Time { return c.T }

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// UnixSeconds returns t as fractional seconds since the Unix epoch, the format
// used for envelope "timestamp" metadata.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ToTehran converts a time to Tehran timezone.
func ToTehran(t time.Time) time.Time {
	return t.In(TehranTZ)
}

// ParseDate parses a YYYY-MM-DD date in Tehran timezone.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), TehranTZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

// ParseClock parses an HH:MM wall clock time.
func ParseClock(value string) (time.Time, error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", value)
	}
	return t, nil
}

// ValidateRange checks that from <= to for two YYYY-MM-DD dates. An empty to is
// accepted and means "open ended".
func ValidateRange(from, to string) error {
	start, err := ParseDate(from)
	if err != nil {
		return err
	}
	if strings.TrimSpace(to) == "" {
		return nil
	}
	end, err := ParseDate(to)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("date range ends (%s) before it starts (%s)", to, from)
	}
	return nil
}

// ValidateSlot checks that start is strictly before end for two HH:MM times.
func ValidateSlot(start, end string) error {
	s, err := ParseClock(start)
	if err != nil {
		return err
	}
	e, err := ParseClock(end)
	if err != nil {
		return err
	}
	if !s.Before(e) {
		return fmt.Errorf("time slot %s-%s is empty", start, end)
	}
	return nil
}

// FormatDate formats t as YYYY-MM-DD in Tehran timezone.
func FormatDate(t time.Time) string {
	return ToTehran(t).Format(DateLayout)
}
