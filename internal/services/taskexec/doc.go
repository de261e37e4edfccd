// Package taskexec supervises the experimental task process: launch with
// the session environment, capture combined output to the session task log,
// enforce the configured timeout, and map the exit status onto the
// pipeline's error classes.
package taskexec
