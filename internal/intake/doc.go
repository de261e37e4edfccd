// Package intake implements the INIT stage: it resolves the run's identity
// (subject, operators, notes, rig, task parameters) from configuration and
// operator prompts, then lays out the session directory.
package intake
