package config

import (
	"fmt"
	"time"
)

// Schedule is a daily detection window in local time. A window whose end is
// earlier than its start wraps past midnight.
type Schedule struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"start_time"` // HH:MM, 24-hour
	EndTime   string `json:"end_time"`   // HH:MM, 24-hour
}

func (s Schedule) Validate() error {
	if _, err := parseClock(s.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if _, err := parseClock(s.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	return nil
}

// Active reports whether detection should run at now. A disabled schedule is
// always active. Both window ends are inclusive.
func (s Schedule) Active(now time.Time) bool {
	if !s.Enabled {
		return true
	}
	start, err := parseClock(s.StartTime)
	if err != nil {
		return true
	}
	end, err := parseClock(s.EndTime)
	if err != nil {
		return true
	}
	cur := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

// parseClock returns the offset from midnight of an HH:MM string.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
