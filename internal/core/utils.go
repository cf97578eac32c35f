package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	mdRegex  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	relRegex = regexp.MustCompile(`^([hdwmy])-(\d+)$`)
)

// GetTZ returns a *time.Location for the given timezone name.
// Falls back to UTC, reporting ok=false, if the timezone is not found.
func GetTZ(name string) (*time.Location, bool) {
	if name == "" {
		name = DefaultTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// ParseDateSpec returns a concrete time for flexible spec strings.
// Supports:
// 1. Exact YYYY-MM-DD
// 2. M/D or MM/DD (most recent past occurrence)
// 3. Relative forms like h-6 (hours), d-7 (days), w-2 (weeks), m-3 (months), y-1 (years)
// 4. Anything dateparse understands ("2024-07-15T10:00:00Z", "Jul 15 2024 10:00")
func ParseDateSpec(spec string, now time.Time) (time.Time, error) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	spec = strings.TrimSpace(spec)

	// 1. YYYY-MM-DD
	if t, err := time.ParseInLocation(APIDateFmt, spec, loc); err == nil {
		return t, nil
	}

	// 2. M/D or MM/DD
	if matches := mdRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		target := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, loc)
		if target.After(today) {
			target = time.Date(now.Year()-1, time.Month(month), day, 0, 0, 0, 0, loc)
		}
		return target, nil
	}

	// 3. Relative h/d/w/m/y-N
	if matches := relRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		num, _ := strconv.Atoi(matches[2])
		switch matches[1] {
		case "h":
			return now.Add(-time.Duration(num) * time.Hour), nil
		case "d":
			return today.AddDate(0, 0, -num), nil
		case "w":
			return today.AddDate(0, 0, -num*7), nil
		case "m":
			return today.AddDate(0, -num, 0), nil
		case "y":
			return today.AddDate(-num, 0, 0), nil
		}
	}

	// 4. Free-form
	if t, err := dateparse.ParseIn(spec, loc); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
}

// GetTimeRange returns (start, end) datetimes representing a period.
// Supported periods: today, yesterday, this-week, last-week, this-month,
// last-month.
func GetTimeRange(period string, now time.Time) (time.Time, time.Time, error) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	endOfDay := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, loc)
	}
	mondayOf := func(t time.Time) time.Time {
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return t.AddDate(0, 0, -(weekday - 1))
	}

	switch period {
	case "today":
		return today, endOfDay(today), nil

	case "yesterday":
		d := today.AddDate(0, 0, -1)
		return d, endOfDay(d), nil

	case "this-week":
		start := mondayOf(today)
		return start, endOfDay(start.AddDate(0, 0, 6)), nil

	case "last-week":
		start := mondayOf(today).AddDate(0, 0, -7)
		return start, endOfDay(start.AddDate(0, 0, 6)), nil

	case "this-month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return first, endOfDay(first.AddDate(0, 1, -1)), nil

	case "last-month":
		first := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, loc)
		return first, endOfDay(first.AddDate(0, 1, -1)), nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("unknown period: %s", period)
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(APIDateFmt)
}
