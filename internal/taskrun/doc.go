// Package taskrun implements the RUN_TASK stage: it supervises the
// experimental task process while a background resource watcher samples the
// host, cancelling the run on the first threshold breach.
package taskrun
