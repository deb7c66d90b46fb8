package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// ParsePeriod reads a dashboard period such as "24h", "7d" or "12w".
func ParsePeriod(period string) (time.Duration, error) {
	period = strings.TrimSpace(strings.ToLower(period))
	if len(period) < 2 {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	n, err := strconv.Atoi(period[:len(period)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	switch period[len(period)-1] {
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid period %q", period)
	}
}

// ParseRange reads RFC 3339 start and end query values. Missing values
// default to the last 24 hours ending now.
func ParseRange(startStr, endStr string, now time.Time) (time.Time, time.Time, error) {
	end := now
	if endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time format, use RFC3339: %w", err)
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time format, use RFC3339: %w", err)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}
	return start, end, nil
}
