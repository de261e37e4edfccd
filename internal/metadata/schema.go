package metadata

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Schema supplies the target schema identity and its field rules. The
// mapper validates every Record against the configured schema before
// accepting it.
type Schema interface {
	Name() string
	Version() string
	Validate(r *Record) []FieldError
}

var builtinSchemas = map[string]Schema{
	"core": coreSchema{},
}

// SchemaNames returns the known schema names, sorted.
func SchemaNames() []string {
	names := make([]string, 0, len(builtinSchemas))
	for name := range builtinSchemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func schemaFor(name string) (Schema, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		normalized = "core"
	}
	schema, ok := builtinSchemas[normalized]
	if !ok {
		return nil, fmt.Errorf("unknown metadata schema %q (known: %s)",
			name, strings.Join(SchemaNames(), ", "))
	}
	return schema, nil
}

// coreSchema is the default session metadata schema.
type coreSchema struct{}

func (coreSchema) Name() string    { return "core" }
func (coreSchema) Version() string { return "1" }

func (coreSchema) Validate(r *Record) []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.SessionID) == "" {
		errs = append(errs, FieldError{Field: "session_id", Reason: "required"})
	} else if _, err := uuid.Parse(r.SessionID); err != nil {
		errs = append(errs, FieldError{Field: "session_id", Reason: "not a valid UUID"})
	}
	if strings.TrimSpace(r.Subject) == "" {
		errs = append(errs, FieldError{Field: "subject", Reason: "required"})
	}
	if len(r.Operators) == 0 {
		errs = append(errs, FieldError{Field: "operators", Reason: "at least one operator is required"})
	} else {
		for _, op := range r.Operators {
			if strings.TrimSpace(op) == "" {
				errs = append(errs, FieldError{Field: "operators", Reason: "blank operator name"})
				break
			}
		}
	}
	if strings.TrimSpace(r.Task.Name) == "" {
		errs = append(errs, FieldError{Field: "task.name", Reason: "required"})
	}
	if r.Task.FinishedAt.Before(r.Task.StartedAt) {
		errs = append(errs, FieldError{Field: "task.finished_at", Reason: "precedes task.started_at"})
	}
	if len(r.Files) == 0 {
		errs = append(errs, FieldError{Field: "files", Reason: "no data files were produced"})
	}
	for i, file := range r.Files {
		switch {
		case file.Path == "":
			errs = append(errs, FieldError{Field: fmt.Sprintf("files[%d].path", i), Reason: "empty path"})
		case file.Fingerprint == "":
			errs = append(errs, FieldError{Field: fmt.Sprintf("files[%d].fingerprint", i), Reason: "missing fingerprint"})
		case file.SizeBytes < 0:
			errs = append(errs, FieldError{Field: fmt.Sprintf("files[%d].size_bytes", i), Reason: "negative size"})
		}
	}
	return errs
}
