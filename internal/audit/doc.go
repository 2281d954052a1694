// Package audit maintains a tamper-evident event log in the appointment
// database. Every event carries the hash of its predecessor, so any
// edit, removal, or reorder of past events breaks the chain and is
// caught by Verify.
package audit
