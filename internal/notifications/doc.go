// Package notifications delivers operator alerts for pipeline milestones.
//
// The default implementation publishes to ntfy using the topic configured
// under [notifications] and degrades to a no-op when no topic is set.
// Alert bodies carry appointment identifiers only; patient references and
// clinical content never leave the daemon through this path.
package notifications
