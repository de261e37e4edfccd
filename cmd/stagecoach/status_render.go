package main

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stagecoach/internal/session"
)

var stageTitler = cases.Title(language.English)

// stageLabel renders a stage identifier for humans: "map_metadata" becomes
// "Map Metadata".
func stageLabel(stage session.Stage) string {
	return stageTitler.String(strings.ReplaceAll(string(stage), "_", " "))
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.Local().Format("2006-01-02 15:04:05")
}

func formatAge(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	age := time.Since(value)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return strings.TrimSuffix(age.Round(time.Minute).String(), "0s")
	case age < 24*time.Hour:
		return age.Round(time.Minute).String()
	default:
		return value.Local().Format("2006-01-02")
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return "-"
}
