package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestWithinQuietHours(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		window string
		want   bool
	}{
		{"late evening inside wrap window", at(23, 0), "21-08", true},
		{"early morning inside wrap window", at(3, 0), "21-08", true},
		{"boundary start is quiet", at(21, 0), "21-08", true},
		{"boundary end is allowed", at(8, 0), "21-08", false},
		{"midday outside wrap window", at(12, 0), "21-08", false},
		{"non-wrapping window", at(14, 0), "13-18", true},
		{"outside non-wrapping window", at(19, 0), "13-18", false},
		{"degenerate window never quiet", at(23, 0), "9-9", false},
		{"garbage falls back to default", at(23, 0), "bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WithinQuietHours(tt.now, tt.window))
		})
	}
}

func TestNextAllowedTime(t *testing.T) {
	// 23:00 on day D defers to 08:05 on day D+1.
	next := NextAllowedTime(at(23, 0), "21-08")
	assert.Equal(t, time.Date(2026, 3, 11, 8, 5, 0, 0, time.UTC), next)

	// 03:00 defers to 08:05 the same day.
	next = NextAllowedTime(at(3, 0), "21-08")
	assert.Equal(t, time.Date(2026, 3, 10, 8, 5, 0, 0, time.UTC), next)

	// Exactly at the release minute rolls to the next day.
	next = NextAllowedTime(time.Date(2026, 3, 10, 8, 5, 0, 0, time.UTC), "21-08")
	assert.Equal(t, time.Date(2026, 3, 11, 8, 5, 0, 0, time.UTC), next)
}
