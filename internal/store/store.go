package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scribeline/internal/config"
	"scribeline/internal/services"
)

// Store manages appointment persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the appointment database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the shared database handle for the audit log, which appends
// to its own table in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new appointment record.
func (s *Store) Create(ctx context.Context, appt *Appointment) error {
	if appt == nil {
		return errors.New("appointment is nil")
	}
	if strings.TrimSpace(appt.ID) == "" {
		return errors.New("appointment id is required")
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = StatusRecorded
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO appointments (
            id, patient_ref, status, attempt, next_attempt_at,
            last_error, key_ref, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		appt.ID,
		appt.PatientRef,
		appt.Status,
		appt.Attempt,
		nullableTime(appt.NextAttemptAt),
		nullableString(appt.LastError),
		nullableString(appt.KeyRef),
		appt.CreatedAt.Format(time.RFC3339Nano),
		appt.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return services.Wrap(services.ErrDuplicateID, "store", "create", appt.ID, nil)
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// Get fetches an appointment by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// Advance atomically moves an appointment from one state to the next and
// optionally registers the artifact the completed stage produced. The
// update only applies when the stored state equals from; a mismatch
// surfaces as a state conflict so racing workers never double-process.
func (s *Store) Advance(ctx context.Context, id string, from, to Status, artifact *Artifact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advance tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE appointments
         SET status = ?, attempt = 0, next_attempt_at = NULL, last_error = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		to, now, id, from,
	)
	if err != nil {
		return fmt.Errorf("advance appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrMissing(ctx, tx, id, from)
	}

	if artifact != nil {
		created := artifact.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		// OR REPLACE keeps resume idempotent: a stage re-executed after a
		// crash between blob write and commit overwrites its own descriptor.
		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO artifacts (
                appointment_id, kind, path, checksum, size_bytes, created_at
            ) VALUES (?, ?, ?, ?, ?, ?)`,
			id,
			artifact.Kind,
			artifact.Path,
			artifact.Checksum,
			artifact.Size,
			created.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit advance: %w", err)
	}
	return nil
}

// Claim moves an appointment from a ready state into its processing
// state without touching retry bookkeeping. attempt and next_attempt_at
// must survive a crash between claim and commit so recovery keeps the
// remaining retry budget; only a successful stage commit resets them.
func (s *Store) Claim(ctx context.Context, id string, from, to Status) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE appointments
         SET status = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		to,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("claim appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrMissing(ctx, nil, id, from)
	}
	return nil
}

// SetRetry rolls an in-flight appointment back to its committed state and
// persists the retry bookkeeping so backoff survives a restart.
func (s *Store) SetRetry(ctx context.Context, id string, from, to Status, attempt int, nextAttemptAt time.Time, reason string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE appointments
         SET status = ?, attempt = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		to,
		attempt,
		nextAttemptAt.UTC().Format(time.RFC3339Nano),
		nullableString(reason),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		from,
	)
	if err != nil {
		return fmt.Errorf("set retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set retry rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrMissing(ctx, nil, id, from)
	}
	return nil
}

// MarkFailed moves an appointment to the terminal failed state with a
// human-readable reason. Terminal appointments are left untouched.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE appointments
         SET status = ?, next_attempt_at = NULL, last_error = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		StatusFailed,
		reason,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusCompleted,
		StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed rows affected: %w", err)
	}
	if affected == 0 {
		return s.conflictOrMissing(ctx, nil, id, "")
	}
	return nil
}

// SetKeyRef records the wrapped-key reference on an appointment.
func (s *Store) SetKeyRef(ctx context.Context, id, keyRef string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE appointments SET key_ref = ?, updated_at = ? WHERE id = ?`,
		keyRef,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set key ref: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set key ref rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "set key ref", id, nil)
	}
	return nil
}

// NextReady returns the oldest appointment in a ready state whose backoff
// window has elapsed, or nil when none is due.
func (s *Store) NextReady(ctx context.Context, now time.Time) (*Appointment, error) {
	ready := ReadyStatuses()
	placeholders := makePlaceholders(len(ready))
	args := make([]any, 0, len(ready)+1)
	for _, status := range ready {
		args = append(args, status)
	}
	args = append(args, now.UTC().Format(time.RFC3339Nano))

	query := `SELECT ` + appointmentColumns + ` FROM appointments
        WHERE status IN (` + placeholders + `)
          AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
        ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	appt, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next ready: %w", err)
	}
	return appt, nil
}

// ListPending produces the non-terminal appointments ordered by creation
// time. The sequence is lazy and restartable: each range re-runs the query.
func (s *Store) ListPending(ctx context.Context) iter.Seq2[*Appointment, error] {
	return func(yield func(*Appointment, error) bool) {
		query := `SELECT ` + appointmentColumns + ` FROM appointments
            WHERE status NOT IN (?, ?) ORDER BY created_at`
		rows, err := s.db.QueryContext(ctx, query, StatusCompleted, StatusFailed)
		if err != nil {
			yield(nil, fmt.Errorf("list pending: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			appt, err := scanAppointment(rows)
			if !yield(appt, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// List returns appointments filtered by status set (or all when no status
// is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Appointment, error) {
	baseQuery := `SELECT ` + appointmentColumns + ` FROM appointments`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// RollbackProcessing returns in-flight appointments to their committed
// predecessor states. Run at startup before accepting work so a crashed
// stage is resumed, never skipped or duplicated.
func (s *Store) RollbackProcessing(ctx context.Context) (int64, error) {
	var total int64
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for processing, committed := range processingRollbacks {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE appointments SET status = ?, updated_at = ? WHERE status = ?`,
			committed, now, processing,
		)
		if err != nil {
			return total, fmt.Errorf("rollback %s: %w", processing, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rollback rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// RegisterArtifact records an artifact outside a state transition, used
// for the intake audio blob that exists before the pipeline runs.
func (s *Store) RegisterArtifact(ctx context.Context, artifact Artifact) error {
	created := artifact.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO artifacts (
            appointment_id, kind, path, checksum, size_bytes, created_at
        ) VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.AppointmentID,
		artifact.Kind,
		artifact.Path,
		artifact.Checksum,
		artifact.Size,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("register artifact: %w", err)
	}
	return nil
}

// Artifacts returns every artifact descriptor registered for an appointment.
func (s *Store) Artifacts(ctx context.Context, id string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT appointment_id, kind, path, checksum, size_bytes, created_at
         FROM artifacts WHERE appointment_id = ? ORDER BY created_at`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// ArtifactByKind fetches one artifact descriptor.
func (s *Store) ArtifactByKind(ctx context.Context, id string, kind ArtifactKind) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT appointment_id, kind, path, checksum, size_bytes, created_at
         FROM artifacts WHERE appointment_id = ? AND kind = ?`,
		id, kind,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "artifact", fmt.Sprintf("%s/%s", id, kind), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &artifact, nil
}

// CreateKey persists a wrapped key record. Each appointment gets exactly
// one key for its lifetime.
func (s *Store) CreateKey(ctx context.Context, rec KeyRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO appointment_keys (key_ref, appointment_id, wrapped_key, created_at)
         VALUES (?, ?, ?, ?)`,
		rec.Ref,
		rec.AppointmentID,
		rec.WrappedKey,
		created.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return services.Wrap(services.ErrDuplicateKey, "store", "create key", rec.AppointmentID, nil)
		}
		return fmt.Errorf("insert key record: %w", err)
	}
	return nil
}

// GetKey fetches a wrapped key record by reference.
func (s *Store) GetKey(ctx context.Context, keyRef string) (KeyRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT key_ref, appointment_id, wrapped_key, created_at
         FROM appointment_keys WHERE key_ref = ?`,
		keyRef,
	)
	var (
		rec        KeyRecord
		createdRaw string
	)
	err := row.Scan(&rec.Ref, &rec.AppointmentID, &rec.WrappedKey, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyRecord{}, services.Wrap(services.ErrNotFound, "store", "get key", keyRef, nil)
	}
	if err != nil {
		return KeyRecord{}, fmt.Errorf("get key record: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	return rec, nil
}

// Stats returns a count of appointments grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM appointments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("appointment stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates appointment state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch {
		case status == StatusCompleted:
			health.Completed += count
		case status == StatusFailed:
			health.Failed += count
		case IsProcessingStatus(status):
			health.Processing += count
		default:
			health.Ready += count
		}
	}
	return health, nil
}

// conflictOrMissing distinguishes a guard failure from a missing record
// after a conditional update matched zero rows.
func (s *Store) conflictOrMissing(ctx context.Context, tx *sql.Tx, id string, expected Status) error {
	var current string
	var err error
	query := `SELECT status FROM appointments WHERE id = ?`
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, id).Scan(&current)
	} else {
		err = s.db.QueryRowContext(ctx, query, id).Scan(&current)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "store", "advance", id, nil)
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}
	detail := fmt.Sprintf("%s is %s", id, current)
	if expected != "" {
		detail = fmt.Sprintf("%s is %s, expected %s", id, current, expected)
	}
	return services.Wrap(services.ErrStateConflict, "store", "advance", detail, nil)
}

const appointmentColumns = "id, patient_ref, status, attempt, next_attempt_at, last_error, key_ref, created_at, updated_at"

func scanAppointment(scanner interface{ Scan(dest ...any) error }) (*Appointment, error) {
	var (
		id            string
		patientRef    string
		statusStr     string
		attempt       int
		nextAttemptAt sql.NullString
		lastError     sql.NullString
		keyRef        sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(
		&id,
		&patientRef,
		&statusStr,
		&attempt,
		&nextAttemptAt,
		&lastError,
		&keyRef,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	appt := &Appointment{
		ID:         id,
		PatientRef: patientRef,
		Status:     Status(statusStr),
		Attempt:    attempt,
		LastError:  lastError.String,
		KeyRef:     keyRef.String,
	}
	if nextAttemptAt.Valid {
		if next, err := parseTimeString(nextAttemptAt.String); err == nil {
			appt.NextAttemptAt = &next
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		appt.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		appt.UpdatedAt = updated
	}
	return appt, nil
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (Artifact, error) {
	var (
		artifact   Artifact
		kindStr    string
		createdRaw string
	)
	if err := scanner.Scan(
		&artifact.AppointmentID,
		&kindStr,
		&artifact.Path,
		&artifact.Checksum,
		&artifact.Size,
		&createdRaw,
	); err != nil {
		return Artifact{}, err
	}
	artifact.Kind = ArtifactKind(kindStr)
	if created, err := parseTimeString(createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	return artifact, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
