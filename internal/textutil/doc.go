// Package textutil sanitizes operator-supplied text for use in paths.
//
// Subjects and rig names come from operator input, so anything used as a
// directory segment goes through SanitizeToken first.
package textutil
