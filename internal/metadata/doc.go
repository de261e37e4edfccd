// Package metadata maps raw task output and run context into the
// normalized session record shipped with the data files. Mapping is pure:
// the same inputs always produce the same record apart from the mapped_at
// timestamp, so a failed run can be re-mapped without side effects.
package metadata
