// Package pipeline coordinates appointment processing. A dispatcher
// goroutine claims due appointments into their processing state and
// feeds a bounded work channel; workers execute stages and apply the
// retry policy. All state lives in the store, so a restart resumes
// exactly where the last committed transition left off.
package pipeline
