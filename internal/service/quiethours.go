package service

import (
	"strconv"
	"strings"
	"time"
)

const defaultQuietWindow = "21-08"

// parseQuietWindow parses "startHour-endHour" in 24h local time.
// Malformed input falls back to the default window.
func parseQuietWindow(window string) (start, end int) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return parseQuietWindow(defaultQuietWindow)
	}
	s, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	e, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || s < 0 || s > 23 || e < 0 || e > 23 {
		return parseQuietWindow(defaultQuietWindow)
	}
	return s, e
}

// WithinQuietHours reports whether now falls inside the do-not-send
// window. A window whose start is after its end wraps past midnight:
// "21-08" covers 21:00 through 07:59.
func WithinQuietHours(now time.Time, window string) bool {
	start, end := parseQuietWindow(window)
	h := now.Hour()
	if start == end {
		return false
	}
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// NextAllowedTime returns when a send deferred by quiet hours may go
// out: five past the window's end hour, on the current day if the end
// is still ahead, otherwise the next.
func NextAllowedTime(now time.Time, window string) time.Time {
	_, end := parseQuietWindow(window)
	next := time.Date(now.Year(), now.Month(), now.Day(), end, 5, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
