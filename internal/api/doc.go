// Package api exposes the front-end HTTP contract: appointment
// submission and inspection, decrypted artifact retrieval, and audit
// chain verification. Artifact reads are the only path that returns
// plaintext, and each one is recorded in the audit log.
package api
