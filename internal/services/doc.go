// Package services holds cross-cutting helpers shared by pipeline
// components: the failure taxonomy with its sentinel markers, and the
// context keys used to thread appointment and stage identity through
// logging.
package services
