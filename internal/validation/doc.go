// Package validation implements the VALIDATE_ENV stage: preflight directory
// and dependency checks plus task repository inspection under the configured
// git policy, with an optional interactive hard-reset remediation for dirty
// trees.
package validation
