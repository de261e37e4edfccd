// Package session persists experiment runs in SQLite and defines the stage
// lifecycle shared by the pipeline.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, and stale-run recovery. Session rows capture
// subject, rig, operators, git state, mapped metadata, and transfer summaries
// so commands can report on past runs without touching session directories.
//
// The database is host-local bookkeeping; the authoritative per-run record is
// the manifest inside each session directory. Schema changes bump the version
// in schema.go; users delete the database to adopt the new schema.
package session
