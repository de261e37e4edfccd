package logging

import "time"

// formatTimestamp renders console timestamps in local time at second
// precision. Zero times render empty so optional fields stay blank.
func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
