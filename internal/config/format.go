package config

import (
	"fmt"
	"time"
)

// FormatDuration renders a duration for `config dump`, preferring whole
// days over piles of hours.
func FormatDuration(d time.Duration) string {
	const day = 24 * time.Hour
	if d >= day && d%day == 0 {
		return fmt.Sprintf("%dd", d/day)
	}
	return d.String()
}
