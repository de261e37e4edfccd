// Package notifications delivers session lifecycle events via pluggable
// notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml (or STAGECOACH_NTFY_TOPIC) and gracefully degrades to a no-op
// when notifications are disabled. Enumerated event types cover the session
// milestones so the launcher can emit consistent messages without duplicating
// HTTP glue.
//
// Extend this package if you need alternative transports; all launcher code
// depends only on the simple Service interface.
package notifications
