// Package preflight provides readiness checks for filesystem paths and
// external endpoints that stagecoach depends on.
//
// These checks run in two contexts:
//   - VALIDATE_ENV calls RunAll before the task is allowed to start.
//     If any check fails, the run halts rather than wasting a session
//     on a doomed transfer.
//   - The CLI "stagecoach doctor" command uses individual check functions
//     (CheckDirectoryAccess, CheckBackendFromConfig) to display health.
//
// Each check is gated by its config toggle -- disabled stages are skipped.
package preflight
