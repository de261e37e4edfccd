// Package resources samples host capacity (free disk on the working and
// destination volumes, available memory, load average) and compares it
// against configured minimums before and during a run.
package resources
