package logging

import (
	"log/slog"
	"strings"
)

type infoField struct {
	label string
	value string
}

const infoAttrLimit = 8

var infoHighlightKeys = []string{
	FieldAlert,
	FieldEventType,
	FieldDecisionType,
	FieldSubject,
	FieldTask,
	"rig",
	"operators",
	"status",
	"reason",
	"command",
	"exit_code",
	"commit",
	"branch",
	"dirty",
	"version_constraint",
	"git_violations",
	"failing_metrics",
	"working_free_bytes",
	"destination_free_bytes",
	"available_memory_bytes",
	"load_average",
	"schema",
	"schema_version",
	"data_files",
	"total_bytes",
	"files_total",
	"files_confirmed",
	"files_failed",
	"files_skipped",
	"bytes_copied",
	"attempt",
	"max_attempts",
	"backoff",
	"fingerprint_mode",
	"error_message",
	FieldErrorHint,
	"decision_result",
	"decision_selected",
	// Stage summary fields
	"stage_duration",
	"task_duration",
	"transfer_duration",
	"mapping_duration",
	"notification_backend",
	"exit_status",
}

// selectInfoFields returns formatted info-level fields and a count of hidden entries.
// limit=0 means no limit. includeDebug controls whether debug-only keys are allowed.
func selectInfoFields(attrs []kv, limit int, includeDebug bool) ([]infoField, int) {
	if len(attrs) == 0 {
		return nil, 0
	}
	if limit < 0 {
		limit = 0
	}
	used := make([]bool, len(attrs))
	formatted := make([]string, len(attrs))
	formattedSet := make([]bool, len(attrs))
	ensureValue := func(idx int) string {
		if !formattedSet[idx] {
			formatted[idx] = formatValueForKey(attrs[idx].key, attrs[idx].value)
			formattedSet[idx] = true
		}
		return formatted[idx]
	}
	result := make([]infoField, 0, infoAttrLimit)
	hidden := 0

	for _, key := range infoHighlightKeys {
		if limit > 0 && len(result) >= limit {
			break
		}
		for idx, attr := range attrs {
			if used[idx] || attr.key != key {
				continue
			}
			used[idx] = true
			if skipInfoKey(attr.key) {
				break
			}
			if !includeDebug && isDebugOnlyKey(attr.key) {
				hidden++
				break
			}
			val := ensureValue(idx)
			if !includeDebug && shouldHideInfoValue(attr.key, val) {
				hidden++
				break
			}
			result = append(result, infoField{label: displayLabel(attr.key), value: val})
			break
		}
	}

	for idx, attr := range attrs {
		if used[idx] {
			continue
		}
		used[idx] = true
		if skipInfoKey(attr.key) {
			continue
		}
		if !includeDebug && isDebugOnlyKey(attr.key) {
			hidden++
			continue
		}
		val := ensureValue(idx)
		if !includeDebug && shouldHideInfoValue(attr.key, val) {
			hidden++
			continue
		}
		if limit <= 0 || len(result) < limit {
			result = append(result, infoField{label: displayLabel(attr.key), value: val})
		} else if limit > 0 {
			hidden++
		}
	}

	return result, hidden
}

// formatValueForKey applies smart formatting based on the key name.
func formatValueForKey(key string, v slog.Value) string {
	v = v.Resolve()

	// Handle byte sizes
	if isByteSizeKey(key) && (v.Kind() == slog.KindInt64 || v.Kind() == slog.KindUint64) {
		var bytes int64
		if v.Kind() == slog.KindInt64 {
			bytes = v.Int64()
		} else {
			bytes = int64(v.Uint64())
		}
		return formatBytes(bytes)
	}

	// Handle durations
	if isDurationKey(key) && v.Kind() == slog.KindDuration {
		return formatDurationHuman(v.Duration())
	}

	// Handle percentages
	if isPercentKey(key) && v.Kind() == slog.KindFloat64 {
		return formatPercent(v.Float64())
	}

	// Handle booleans with friendlier display
	if v.Kind() == slog.KindBool {
		if v.Bool() {
			return "yes"
		}
		return "no"
	}

	value := formatValue(v)
	if key == "error" || key == "error_message" {
		value = truncateErrorValue(value)
	}
	return value
}

// isByteSizeKey returns true if the key represents a byte size.
func isByteSizeKey(key string) bool {
	return strings.HasSuffix(key, "_bytes") ||
		strings.HasSuffix(key, "_size") ||
		strings.HasPrefix(key, "bytes_") ||
		key == "bytes" ||
		key == "size"
}

// isDurationKey returns true if the key represents a duration.
func isDurationKey(key string) bool {
	return strings.HasSuffix(key, "_duration") ||
		strings.HasSuffix(key, "_elapsed") ||
		strings.HasSuffix(key, "_timeout") ||
		key == "elapsed" ||
		key == "duration" ||
		key == "timeout" ||
		key == "backoff"
}

// isPercentKey returns true if the key represents a percentage.
func isPercentKey(key string) bool {
	return strings.HasSuffix(key, "_percent") || strings.HasSuffix(key, "_fraction")
}

func truncateErrorValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	const maxLen = 200
	if len(value) > maxLen {
		value = value[:maxLen] + "..."
	}
	return value
}

func skipInfoKey(key string) bool {
	switch key {
	case "", FieldSessionID, FieldStage, FieldSubject, "component":
		return true
	default:
		return false
	}
}

func isDebugOnlyKey(key string) bool {
	if key == "" {
		return true
	}
	switch key {
	case FieldCorrelationID,
		"fingerprint",
		"pid",
		"source_path",
		"destination_path",
		"ledger_path",
		"manifest_path",
		"heartbeat_interval",
		"sample_interval":
		return true
	}
	if strings.Contains(key, "correlation") {
		return true
	}
	if strings.HasSuffix(key, "_id") && key != FieldSessionID {
		return true
	}
	if strings.Contains(key, "_path") || strings.Contains(key, "_dir") {
		return true
	}
	if strings.Contains(key, "fingerprint") {
		return true
	}
	return false
}

func shouldHideInfoValue(key, value string) bool {
	switch key {
	case "error_message", "error", "command", "reason":
		return false
	}
	return len(value) > 120
}

func displayLabel(key string) string {
	switch key {
	case FieldAlert:
		return "Alert"
	case FieldEventType:
		return "Event"
	case FieldDecisionType:
		return "Decision"
	case FieldErrorHint:
		return "Hint"
	case FieldSessionID:
		return "Session"
	case FieldStage:
		return "Stage"
	case FieldSubject:
		return "Subject"
	case FieldTask:
		return "Task"
	case "rig":
		return "Rig"
	case "operators":
		return "Operators"
	case "exit_code":
		return "Exit Code"
	case "commit":
		return "Commit"
	case "branch":
		return "Branch"
	case "dirty":
		return "Dirty"
	case "version_constraint":
		return "Constraint"
	case "git_violations":
		return "Violations"
	case "failing_metrics":
		return "Failing"
	case "working_free_bytes":
		return "Working Free"
	case "destination_free_bytes":
		return "Destination Free"
	case "available_memory_bytes":
		return "Memory Free"
	case "load_average":
		return "Load"
	case "schema_version":
		return "Schema Version"
	case "data_files":
		return "Data Files"
	case "total_bytes":
		return "Total Size"
	case "files_total":
		return "Files"
	case "files_confirmed":
		return "Confirmed"
	case "files_failed":
		return "Failed"
	case "files_skipped":
		return "Skipped"
	case "bytes_copied":
		return "Copied"
	case "max_attempts":
		return "Max Attempts"
	case "fingerprint_mode":
		return "Fingerprint"
	case "decision_result":
		return "Result"
	case "decision_selected":
		return "Selected"
	case "decision_reason":
		return "Reason"
	case "decision_options":
		return "Options"
	// Stage summary fields - concise labels
	case "stage_duration":
		return "Duration"
	case "task_duration":
		return "Task Time"
	case "transfer_duration":
		return "Transfer Time"
	case "mapping_duration":
		return "Mapping Time"
	case "notification_backend":
		return "Backend"
	case "reason":
		return "Reason"
	default:
		return titleizeKey(key)
	}
}

func titleizeKey(key string) string {
	if key == "" {
		return ""
	}
	parts := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return strings.ToUpper(key[:1]) + strings.ToLower(key[1:])
	}
	for i, part := range parts {
		parts[i] = capitalizeASCII(part)
	}
	return strings.Join(parts, " ")
}

func capitalizeASCII(value string) string {
	switch len(value) {
	case 0:
		return ""
	case 1:
		return strings.ToUpper(value)
	default:
		lower := strings.ToLower(value)
		return strings.ToUpper(lower[:1]) + lower[1:]
	}
}

func infoSummaryKey(component, sessionID string, attrs []kv) string {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		if subject := attrValue(attrs, FieldSubject); subject != "" {
			sessionID = "subject:" + subject
		} else if component != "" {
			sessionID = component
		}
	}
	return sessionID
}

func attrValue(attrs []kv, key string) string {
	for _, kv := range attrs {
		if kv.key == key {
			return attrString(kv.value)
		}
	}
	return ""
}
