package domain

import (
	"fmt"
	"time"
)

// RelativeTime formats the time elapsed between t and now the way the
// dataset listing shows it: "Just now", "5 minutes ago", "1 hour ago",
// "3 days ago". Counts are floored. A t after now reads "Just now".
func RelativeTime(t, now time.Time) string {
	elapsed := now.Sub(t)
	switch {
	case elapsed < time.Minute:
		return "Just now"
	case elapsed < time.Hour:
		return plural(int(elapsed/time.Minute), "minute")
	case elapsed < 24*time.Hour:
		return plural(int(elapsed/time.Hour), "hour")
	default:
		return plural(int(elapsed/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s ago", n, unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// ModifiedDisplay returns the "modified" column for a dataset.
// Edits within a second of creation do not count, which also covers a
// dataset without captions whose modified time is the Unix epoch.
func ModifiedDisplay(created, modified, now time.Time) string {
	if modified.Sub(created) < time.Second {
		return NoModification
	}
	return RelativeTime(modified, now)
}
