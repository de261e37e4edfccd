// Package gitstate records the provenance of the task repository before a
// run: commit, branch, dirty flag, and whether the checked-out version
// satisfies the configured constraint. Policy decides what blocks the run
// and what is merely recorded.
package gitstate
