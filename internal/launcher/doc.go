// Package launcher drives an experiment session through the stage pipeline:
// intake, environment validation, supervised task execution, metadata
// mapping, and data transfer. It owns the session manifest and the store
// row, so every stage transition is durable before the next stage begins.
package launcher
