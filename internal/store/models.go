package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an appointment.
type Status string

const (
	StatusRecorded     Status = "recorded"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusSummarizing  Status = "summarizing"
	StatusSummarized   Status = "summarized"
	StatusExtracting   Status = "extracting"
	StatusExtracted    Status = "extracted"
	StatusFormFilling  Status = "form_filling"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var allStatuses = []Status{
	StatusRecorded,
	StatusTranscribing,
	StatusTranscribed,
	StatusSummarizing,
	StatusSummarized,
	StatusExtracting,
	StatusExtracted,
	StatusFormFilling,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// readyStatuses are committed states with a next stage still to run.
var readyStatuses = []Status{
	StatusRecorded,
	StatusTranscribed,
	StatusSummarized,
	StatusExtracted,
}

var processingStatuses = map[Status]struct{}{
	StatusTranscribing: {},
	StatusSummarizing:  {},
	StatusExtracting:   {},
	StatusFormFilling:  {},
}

// processingRollbacks maps each in-flight state back to the committed
// state a crashed or cancelled stage must resume from.
var processingRollbacks = map[Status]Status{
	StatusTranscribing: StatusRecorded,
	StatusSummarizing:  StatusTranscribed,
	StatusExtracting:   StatusSummarized,
	StatusFormFilling:  StatusExtracted,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Terminal reports whether a status ends the pipeline.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// RollbackStatus returns the committed state an in-flight status resumes
// from after a crash or shutdown.
func RollbackStatus(status Status) (Status, bool) {
	prev, ok := processingRollbacks[status]
	return prev, ok
}

// ReadyStatuses returns the committed states eligible for dispatch.
func ReadyStatuses() []Status {
	cp := make([]Status, len(readyStatuses))
	copy(cp, readyStatuses)
	return cp
}

// ArtifactKind identifies one encrypted pipeline output.
type ArtifactKind string

const (
	ArtifactAudio      ArtifactKind = "audio"
	ArtifactTranscript ArtifactKind = "transcript"
	ArtifactSummary    ArtifactKind = "summary"
	ArtifactExtraction ArtifactKind = "extraction"
	ArtifactForm       ArtifactKind = "form"
)

var allArtifactKinds = []ArtifactKind{
	ArtifactAudio,
	ArtifactTranscript,
	ArtifactSummary,
	ArtifactExtraction,
	ArtifactForm,
}

// ParseArtifactKind converts a string into a known ArtifactKind.
func ParseArtifactKind(value string) (ArtifactKind, bool) {
	normalized := ArtifactKind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allArtifactKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// Appointment is the durable record driving the pipeline.
type Appointment struct {
	ID            string
	PatientRef    string
	Status        Status
	Attempt       int
	NextAttemptAt *time.Time
	LastError     string
	KeyRef        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Artifact describes one encrypted blob belonging to an appointment.
type Artifact struct {
	AppointmentID string
	Kind          ArtifactKind
	Path          string
	Checksum      string
	Size          int64
	CreatedAt     time.Time
}

// KeyRecord is the persisted, wrapped form of an appointment's data key.
// Plaintext key material never reaches this package.
type KeyRecord struct {
	Ref           string
	AppointmentID string
	WrappedKey    []byte
	CreatedAt     time.Time
}

// HealthSummary describes aggregated appointment counts per lifecycle group.
type HealthSummary struct {
	Total      int
	Ready      int
	Processing int
	Completed  int
	Failed     int
}
