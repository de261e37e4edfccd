// Package watchdog notifies the downstream transfer service once a
// session's copies settle. Two live backends exist: an HTTP endpoint
// receiving the notice as JSON with a bearer credential, and a watched
// flag directory receiving a YAML manifest the downstream scheduler picks
// up. Credential material comes from a pluggable provider (static value,
// environment variable, or file).
package watchdog
