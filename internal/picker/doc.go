// Package picker resolves operator decisions during a run.
//
// Interactive sessions prompt on the terminal; headless sessions answer
// from configured defaults and fail fast when a decision has no default,
// so unattended runs never hang waiting for input.
package picker
