package metadata

import (
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/services"
)

// Option configures the mapper.
type Option func(*Mapper)

// WithClock overrides the mapping timestamp source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) {
		if now != nil {
			m.now = now
		}
	}
}

// Mapper turns raw task output and run context into a validated Record.
// Map performs no I/O; the caller supplies the scanned file list.
type Mapper struct {
	schema Schema
	extra  map[string]string
	now    func() time.Time
}

// NewMapper resolves the configured schema and builds a mapper.
func NewMapper(cfg config.Metadata, opts ...Option) (*Mapper, error) {
	schema, err := schemaFor(cfg.Schema)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "metadata", err.Error(), nil)
	}
	mapper := &Mapper{
		schema: schema,
		extra:  cfg.ExtraFields,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(mapper)
	}
	return mapper, nil
}

// Map builds the Record for one run. Identical inputs produce identical
// records except for MappedAt. Validation failures return a MappingError
// naming every missing or malformed field, tagged services.ErrMapping.
func (m *Mapper) Map(raw TaskOutput, runCtx RunContext) (*Record, error) {
	record := &Record{
		Schema:        m.schema.Name(),
		SchemaVersion: m.schema.Version(),
		SessionID:     runCtx.SessionID,
		Subject:       runCtx.Subject,
		Rig:           runCtx.Rig,
		Operators:     append([]string(nil), runCtx.Operators...),
		Notes:         runCtx.Notes,
		Task: TaskInfo{
			Name:            runCtx.TaskName,
			ExitCode:        raw.ExitCode,
			StartedAt:       raw.StartedAt,
			FinishedAt:      raw.FinishedAt,
			DurationSeconds: raw.FinishedAt.Sub(raw.StartedAt).Seconds(),
		},
		Git:      runCtx.Git,
		Files:    make([]FileEntry, 0, len(raw.Files)),
		MappedAt: m.now().UTC(),
	}
	for _, file := range raw.Files {
		record.Files = append(record.Files, FileEntry{
			Path:        file.RelPath,
			SizeBytes:   file.Size,
			Fingerprint: file.Fingerprint,
		})
		record.TotalBytes += file.Size
	}
	record.FileCount = len(record.Files)
	if len(m.extra) > 0 {
		record.Extra = make(map[string]string, len(m.extra))
		for k, v := range m.extra {
			record.Extra[k] = v
		}
	}

	if fieldErrs := m.schema.Validate(record); len(fieldErrs) > 0 {
		mappingErr := &MappingError{Schema: m.schema.Name(), Fields: fieldErrs}
		return nil, services.Wrap(services.ErrMapping, "", "metadata",
			"record rejected by schema", mappingErr)
	}
	return record, nil
}
