package metadata

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"stagecoach/internal/config"
	"stagecoach/internal/gitstate"
	"stagecoach/internal/ledger"
	"stagecoach/internal/services"
)

const testSessionID = "0b7e3b0e-4a7e-4a8e-9c4e-2f5a6d7c8b9a"

func validInputs() (TaskOutput, RunContext) {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	raw := TaskOutput{
		ExitCode:   0,
		StartedAt:  started,
		FinishedAt: started.Add(92 * time.Minute),
		Files: []ledger.FileSpec{
			{RelPath: "data/ephys/spikes.bin", Size: 2048, Fingerprint: "sha256:aa11"},
			{RelPath: "data/trials.csv", Size: 512, Fingerprint: "sha256:bb22"},
		},
	}
	runCtx := RunContext{
		SessionID: testSessionID,
		Subject:   "m042",
		Rig:       "rig-03",
		Operators: []string{"jdoe", "asmith"},
		Notes:     "probe moved 2mm",
		TaskName:  "visual-discrimination",
		Git: &gitstate.State{
			Commit: "7f3a9c1d2e4b",
			Branch: "main",
		},
	}
	return raw, runCtx
}

func newTestMapper(t *testing.T, cfg config.Metadata, opts ...Option) *Mapper {
	t.Helper()
	mapper, err := NewMapper(cfg, opts...)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	return mapper
}

func TestMapBuildsRecord(t *testing.T) {
	raw, runCtx := validInputs()
	mapper := newTestMapper(t, config.Metadata{
		Schema:      "core",
		ExtraFields: map[string]string{"facility": "bldg-42"},
	})

	record, err := mapper.Map(raw, runCtx)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if record.Schema != "core" || record.SchemaVersion != "1" {
		t.Fatalf("schema = %s/%s", record.Schema, record.SchemaVersion)
	}
	if record.Subject != "m042" || record.Rig != "rig-03" {
		t.Fatalf("identity = %s/%s", record.Subject, record.Rig)
	}
	if record.Task.Name != "visual-discrimination" || record.Task.ExitCode != 0 {
		t.Fatalf("task = %+v", record.Task)
	}
	if record.Task.DurationSeconds != 92*60 {
		t.Fatalf("duration = %v", record.Task.DurationSeconds)
	}
	if record.FileCount != 2 || record.TotalBytes != 2560 {
		t.Fatalf("totals = %d files, %d bytes", record.FileCount, record.TotalBytes)
	}
	if record.Files[0].Path != "data/ephys/spikes.bin" || record.Files[0].Fingerprint != "sha256:aa11" {
		t.Fatalf("files[0] = %+v", record.Files[0])
	}
	if record.Extra["facility"] != "bldg-42" {
		t.Fatalf("extra = %v", record.Extra)
	}
	if record.Git == nil || record.Git.Commit != "7f3a9c1d2e4b" {
		t.Fatalf("git = %+v", record.Git)
	}
	if record.MappedAt.IsZero() {
		t.Fatal("MappedAt should be stamped")
	}
}

func TestMapIdempotentModuloMappedAt(t *testing.T) {
	raw, runCtx := validInputs()
	first := time.Date(2026, 3, 14, 11, 2, 3, 0, time.UTC)
	second := first.Add(17 * time.Minute)

	mapperA := newTestMapper(t, config.Metadata{Schema: "core"},
		WithClock(func() time.Time { return first }))
	mapperB := newTestMapper(t, config.Metadata{Schema: "core"},
		WithClock(func() time.Time { return second }))

	recordA, err := mapperA.Map(raw, runCtx)
	if err != nil {
		t.Fatalf("Map A: %v", err)
	}
	recordB, err := mapperB.Map(raw, runCtx)
	if err != nil {
		t.Fatalf("Map B: %v", err)
	}

	if recordA.MappedAt.Equal(recordB.MappedAt) {
		t.Fatal("MappedAt should differ between invocations")
	}
	recordA.MappedAt = time.Time{}
	recordB.MappedAt = time.Time{}
	if !reflect.DeepEqual(recordA, recordB) {
		t.Fatalf("records differ beyond MappedAt:\nA: %+v\nB: %+v", recordA, recordB)
	}
}

func TestMapNamesMissingFields(t *testing.T) {
	raw, runCtx := validInputs()
	runCtx.Subject = ""
	runCtx.Operators = nil
	raw.Files = nil

	mapper := newTestMapper(t, config.Metadata{Schema: "core"})
	_, err := mapper.Map(raw, runCtx)
	if !errors.Is(err, services.ErrMapping) {
		t.Fatalf("expected mapping marker, got %v", err)
	}
	var mappingErr *MappingError
	if !errors.As(err, &mappingErr) {
		t.Fatalf("expected MappingError, got %v", err)
	}
	names := strings.Join(mappingErr.FieldNames(), ",")
	for _, want := range []string{"subject", "operators", "files"} {
		if !strings.Contains(names, want) {
			t.Fatalf("missing field %q in %q", want, names)
		}
	}
	for _, want := range []string{"subject", "operators", "files"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error text should name %q: %v", want, err)
		}
	}
}

func TestMapRejectsMalformedValues(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*TaskOutput, *RunContext)
		wantField string
	}{
		{
			name:      "bad session id",
			mutate:    func(_ *TaskOutput, rc *RunContext) { rc.SessionID = "not-a-uuid" },
			wantField: "session_id",
		},
		{
			name:      "blank operator",
			mutate:    func(_ *TaskOutput, rc *RunContext) { rc.Operators = []string{"jdoe", "  "} },
			wantField: "operators",
		},
		{
			name:      "missing task name",
			mutate:    func(_ *TaskOutput, rc *RunContext) { rc.TaskName = "" },
			wantField: "task.name",
		},
		{
			name: "finish precedes start",
			mutate: func(raw *TaskOutput, _ *RunContext) {
				raw.FinishedAt = raw.StartedAt.Add(-time.Minute)
			},
			wantField: "task.finished_at",
		},
		{
			name: "file without fingerprint",
			mutate: func(raw *TaskOutput, _ *RunContext) {
				raw.Files[1].Fingerprint = ""
			},
			wantField: "files[1].fingerprint",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, runCtx := validInputs()
			tc.mutate(&raw, &runCtx)
			mapper := newTestMapper(t, config.Metadata{Schema: "core"})
			_, err := mapper.Map(raw, runCtx)
			var mappingErr *MappingError
			if !errors.As(err, &mappingErr) {
				t.Fatalf("expected MappingError, got %v", err)
			}
			if !strings.Contains(strings.Join(mappingErr.FieldNames(), ","), tc.wantField) {
				t.Fatalf("expected field %q, got %v", tc.wantField, mappingErr.FieldNames())
			}
		})
	}
}

func TestMapCopiesOperatorSlice(t *testing.T) {
	raw, runCtx := validInputs()
	mapper := newTestMapper(t, config.Metadata{Schema: "core"})
	record, err := mapper.Map(raw, runCtx)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	runCtx.Operators[0] = "mutated"
	if record.Operators[0] != "jdoe" {
		t.Fatal("record should hold its own copy of operators")
	}
}

func TestNewMapperRejectsUnknownSchema(t *testing.T) {
	_, err := NewMapper(config.Metadata{Schema: "bids"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "core") {
		t.Fatalf("error should list known schemas: %v", err)
	}
}

func TestNewMapperDefaultsToCore(t *testing.T) {
	mapper := newTestMapper(t, config.Metadata{})
	raw, runCtx := validInputs()
	record, err := mapper.Map(raw, runCtx)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if record.Schema != "core" {
		t.Fatalf("schema = %q", record.Schema)
	}
}

func TestRecordEncode(t *testing.T) {
	raw, runCtx := validInputs()
	mapper := newTestMapper(t, config.Metadata{Schema: "core"})
	record, err := mapper.Map(raw, runCtx)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	data, err := record.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !json.Valid(data) {
		t.Fatal("Encode should produce valid JSON")
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Fatal("Encode should end with a newline")
	}
	var decoded Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded.SessionID != testSessionID {
		t.Fatalf("decoded session id = %q", decoded.SessionID)
	}
}
