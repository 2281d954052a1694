package services

import "context"

type contextKey string

const (
	appointmentIDKey contextKey = "appointment_id"
	stageKey         contextKey = "stage"
	requestIDKey     contextKey = "request_id"
)

// WithAppointmentID annotates context with the appointment identifier.
func WithAppointmentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, appointmentIDKey, id)
}

// AppointmentIDFromContext extracts the appointment identifier if present.
func AppointmentIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(appointmentIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
