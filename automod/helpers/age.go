package helpers

import (
	"fmt"
	"time"
)

var ageUnits = []struct {
	name string
	dur  time.Duration
}{
	{"year", 365 * 24 * time.Hour},
	{"month", 30 * 24 * time.Hour},
	{"week", 7 * 24 * time.Hour},
	{"day", 24 * time.Hour},
	{"hour", time.Hour},
	{"minute", time.Minute},
}

// Formats an elapsed duration as a relative age, using the largest whole unit (eg, "3 hours ago").
func RelativeAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	for _, u := range ageUnits {
		if d >= u.dur {
			n := int(d / u.dur)
			return fmt.Sprintf("%d %s%s ago", n, u.name, Plural(n))
		}
	}
	return "just now"
}

// Formats a timestamp the way it appears in removal comments.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
