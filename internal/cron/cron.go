// Copyright 2026 The llamar Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses the schedule grammar spec §4.13 names (five
// standard fields plus @hourly/@daily/@weekly/@monthly) and computes
// the next matching instant in local time, so that a daily task still
// runs at 08:00 wall-clock time across a daylight-saving transition.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Use Parse to build one, then
// Next to compute the next matching time.
type Schedule struct {
	minutes     bitset64
	hours       bitset64
	daysOfMonth bitset64
	months      bitset64
	daysOfWeek  bitset64
}

// bitset64 uses a uint64 as a compact set of integers 0-63.
type bitset64 uint64

func (b bitset64) has(value int) bool { return b&(1<<uint(value)) != 0 }
func (b *bitset64) set(value int)     { *b |= 1 << uint(value) }

// shortcuts maps the named schedules to their five-field equivalent.
var shortcuts = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 8 * * *",
	"@weekly":  "0 8 * * 1",
	"@monthly": "0 8 1 * *",
}

// Parse parses a standard 5-field cron expression, or one of the
// @hourly/@daily/@weekly/@monthly shortcuts.
func Parse(expression string) (Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expanded, ok := shortcuts[expression]; ok {
		expression = expanded
	}

	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron: expected 5 fields or a shortcut, got %q", expression)
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: minute field: %w", err)
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: hour field: %w", err)
	}
	daysOfMonth, err := parseField(fields[2], 1, 31)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: day-of-month field: %w", err)
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: month field: %w", err)
	}
	daysOfWeek, err := parseField(fields[4], 0, 6)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: day-of-week field: %w", err)
	}

	return Schedule{
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: daysOfMonth,
		months:      months,
		daysOfWeek:  daysOfWeek,
	}, nil
}

// Next returns the earliest time strictly after t that matches the
// schedule, computed in t's own location so that wall-clock fields
// (e.g. "08:00 every day") hold steady across a DST transition rather
// than drifting by the transition's offset.
//
// Returns an error if no matching time is found within 4 years of t
// (guards against impossible schedules like day-of-month 31 in a
// months field that only contains February).
func (s Schedule) Next(t time.Time) (time.Time, error) {
	loc := t.Location()
	t = t.Truncate(time.Minute).Add(time.Minute)

	limit := t.AddDate(4, 0, 0)

	const (
		allDaysOfMonth bitset64 = 0xFFFFFFFE // bits 1-31
		allDaysOfWeek  bitset64 = 0x7F       // bits 0-6
	)

	// forward returns next, or t moved on by step when next is not
	// later than t: a wall-clock time inside a DST gap normalizes to an
	// earlier instant, which would otherwise loop forever.
	forward := func(next time.Time, step time.Duration) time.Time {
		if next.After(t) {
			return next
		}
		return t.Add(step)
	}

	for t.Before(limit) {
		if !s.months.has(int(t.Month())) {
			t = forward(time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc), time.Hour)
			continue
		}

		// Standard cron semantics: if both day-of-month and
		// day-of-week are restricted, a match on either is
		// sufficient. A "*" field carries every bit of its range, so
		// when either side is "*" the check is a plain AND.
		dayOfMonth := t.Day()
		dayOfWeek := int(t.Weekday())
		dayMatch := s.daysOfMonth.has(dayOfMonth) && s.daysOfWeek.has(dayOfWeek)
		if s.daysOfMonth != allDaysOfMonth && s.daysOfWeek != allDaysOfWeek {
			dayMatch = s.daysOfMonth.has(dayOfMonth) || s.daysOfWeek.has(dayOfWeek)
		}
		if !dayMatch {
			t = forward(time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc), time.Hour)
			continue
		}

		if !s.hours.has(t.Hour()) {
			t = forward(time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc),
				time.Hour-time.Duration(t.Minute())*time.Minute)
			continue
		}

		if !s.minutes.has(t.Minute()) {
			t = forward(time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1, 0, 0, loc), time.Minute)
			continue
		}

		return t, nil
	}

	return time.Time{}, fmt.Errorf("cron: no matching time within 4 years of %s", t.Format(time.RFC3339))
}

func parseField(field string, minimum, maximum int) (bitset64, error) {
	var result bitset64
	for _, term := range strings.Split(field, ",") {
		bits, err := parseTerm(term, minimum, maximum)
		if err != nil {
			return 0, err
		}
		result |= bits
	}
	if result == 0 {
		return 0, fmt.Errorf("field %q produces empty set", field)
	}
	return result, nil
}

func parseTerm(term string, minimum, maximum int) (bitset64, error) {
	parts := strings.SplitN(term, "/", 2)
	rangeExpression := parts[0]
	step := 1
	if len(parts) == 2 {
		parsed, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid step %q: %w", parts[1], err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	var rangeStart, rangeEnd int

	switch {
	case rangeExpression == "*":
		rangeStart, rangeEnd = minimum, maximum
	case strings.Contains(rangeExpression, "-"):
		dashIndex := strings.IndexByte(rangeExpression, '-')
		startStr := rangeExpression[:dashIndex]
		endStr := rangeExpression[dashIndex+1:]
		var err error
		rangeStart, err = strconv.Atoi(startStr)
		if err != nil {
			return 0, fmt.Errorf("invalid range start %q: %w", startStr, err)
		}
		rangeEnd, err = strconv.Atoi(endStr)
		if err != nil {
			return 0, fmt.Errorf("invalid range end %q: %w", endStr, err)
		}
		if rangeStart > rangeEnd {
			return 0, fmt.Errorf("range start %d > end %d", rangeStart, rangeEnd)
		}
	default:
		value, err := strconv.Atoi(rangeExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q: %w", rangeExpression, err)
		}
		rangeStart, rangeEnd = value, value
	}

	if rangeStart < minimum || rangeEnd > maximum {
		return 0, fmt.Errorf("value out of range [%d-%d]: got %d-%d", minimum, maximum, rangeStart, rangeEnd)
	}

	var result bitset64
	for value := rangeStart; value <= rangeEnd; value += step {
		result.set(value)
	}
	return result, nil
}
