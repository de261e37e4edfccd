package logging

import "strings"

// FormatSubject builds the subject/session/stage subject string used in console output.
func FormatSubject(subject, sessionID, stage string) string {
	subject = strings.TrimSpace(subject)
	sessionID = shortSessionID(strings.TrimSpace(sessionID))
	stage = strings.TrimSpace(stage)
	parts := make([]string, 0, 2)
	if subject != "" {
		parts = append(parts, subject)
	}
	switch {
	case sessionID != "" && stage != "":
		parts = append(parts, "Session "+sessionID+" ("+stage+")")
	case sessionID != "":
		parts = append(parts, "Session "+sessionID)
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}

// shortSessionID trims UUID-length identifiers to their first group for display.
func shortSessionID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
