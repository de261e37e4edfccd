// Package manifest maintains the append-only JSON-lines event log that is
// the authoritative record of a run.
//
// Each session directory carries one manifest. Stage transitions are
// appended before the next stage begins, so after a crash the manifest
// always names the stage that was in flight. Lines are plain JSON objects
// so the file stays greppable without tooling.
package manifest
