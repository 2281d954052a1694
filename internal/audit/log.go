package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"scribeline/internal/services"
)

// Actions recorded in the audit chain.
const (
	ActionStateChange       = "STATE_CHANGE"
	ActionKeyCreated        = "KEY_CREATED"
	ActionKeyAccessed       = "KEY_ACCESSED"
	ActionStageFailed       = "STAGE_FAILED"
	ActionRetryScheduled    = "RETRY_SCHEDULED"
	ActionAppointmentFailed = "APPOINTMENT_FAILED"
)

// genesisHash seeds the chain before the first event.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is one link in the audit chain.
type Event struct {
	Seq           int64
	Action        string
	AppointmentID string
	Details       string
	CreatedAt     time.Time
	PrevHash      string
	Hash          string
}

// Log appends and verifies audit events. A single Log instance owns all
// writes to the audit table; the mutex serializes appends so the chain
// never forks.
type Log struct {
	db *sql.DB

	mu       sync.Mutex
	lastSeq  int64
	lastHash string
}

// NewLog binds a Log to the shared database and loads the chain tail.
func NewLog(db *sql.DB) (*Log, error) {
	log := &Log{db: db, lastHash: genesisHash}

	row := db.QueryRow(`SELECT seq, hash FROM audit_events ORDER BY seq DESC LIMIT 1`)
	var seq int64
	var hash string
	err := row.Scan(&seq, &hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load audit tail: %w", err)
	default:
		log.lastSeq = seq
		log.lastHash = hash
	}
	return log, nil
}

// Append records an event at the end of the chain. An append failure is
// unrecoverable for the caller: processing must not continue past an
// unaudited action.
func (l *Log) Append(ctx context.Context, action, appointmentID, details string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.lastSeq + 1
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	hash := chainHash(l.lastHash, seq, action, appointmentID, details, createdAt)

	if _, err := l.db.ExecContext(
		ctx,
		`INSERT INTO audit_events (seq, action, appointment_id, details, created_at, prev_hash, hash)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		seq,
		action,
		nullableID(appointmentID),
		details,
		createdAt,
		l.lastHash,
		hash,
	); err != nil {
		return fmt.Errorf("append audit event %s: %w", action, err)
	}

	l.lastSeq = seq
	l.lastHash = hash
	return nil
}

// Verify walks the whole chain from genesis and reports the number of
// valid events. The first broken link fails verification with an
// integrity error naming the offending sequence number.
func (l *Log) Verify(ctx context.Context) (int64, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT seq, action, appointment_id, details, created_at, prev_hash, hash
         FROM audit_events ORDER BY seq`,
	)
	if err != nil {
		return 0, fmt.Errorf("read audit chain: %w", err)
	}
	defer rows.Close()

	var (
		verified   int64
		expectSeq  int64 = 1
		expectPrev       = genesisHash
	)
	for rows.Next() {
		event, createdRaw, err := scanEvent(rows)
		if err != nil {
			return verified, err
		}
		if event.Seq != expectSeq {
			return verified, services.Wrap(services.ErrIntegrity, "audit", "verify",
				fmt.Sprintf("sequence gap at %d, expected %d", event.Seq, expectSeq), nil)
		}
		if event.PrevHash != expectPrev {
			return verified, services.Wrap(services.ErrIntegrity, "audit", "verify",
				fmt.Sprintf("chain break at seq %d", event.Seq), nil)
		}
		computed := chainHash(event.PrevHash, event.Seq, event.Action, event.AppointmentID, event.Details, createdRaw)
		if computed != event.Hash {
			return verified, services.Wrap(services.ErrIntegrity, "audit", "verify",
				fmt.Sprintf("hash mismatch at seq %d", event.Seq), nil)
		}
		verified++
		expectSeq++
		expectPrev = event.Hash
	}
	if err := rows.Err(); err != nil {
		return verified, err
	}
	return verified, nil
}

// EventsFor produces the audit events for one appointment in chain
// order. The sequence is lazy and restartable.
func (l *Log) EventsFor(ctx context.Context, appointmentID string) iter.Seq2[Event, error] {
	return l.query(ctx,
		`SELECT seq, action, appointment_id, details, created_at, prev_hash, hash
         FROM audit_events WHERE appointment_id = ? ORDER BY seq`,
		appointmentID)
}

// Events produces every audit event in chain order.
func (l *Log) Events(ctx context.Context) iter.Seq2[Event, error] {
	return l.query(ctx,
		`SELECT seq, action, appointment_id, details, created_at, prev_hash, hash
         FROM audit_events ORDER BY seq`)
}

func (l *Log) query(ctx context.Context, query string, args ...any) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		rows, err := l.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(Event{}, fmt.Errorf("read audit events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			event, _, err := scanEvent(rows)
			if !yield(event, err) {
				return
			}
			if err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Event{}, err)
		}
	}
}

// chainHash binds an event to its predecessor. The created-at string is
// hashed exactly as stored so verification never depends on time parsing.
func chainHash(prevHash string, seq int64, action, appointmentID, details, createdAt string) string {
	payload := strings.Join([]string{
		prevHash,
		fmt.Sprintf("%d", seq),
		action,
		appointmentID,
		details,
		createdAt,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func scanEvent(rows *sql.Rows) (Event, string, error) {
	var (
		event      Event
		apptID     sql.NullString
		createdRaw string
	)
	if err := rows.Scan(
		&event.Seq,
		&event.Action,
		&apptID,
		&event.Details,
		&createdRaw,
		&event.PrevHash,
		&event.Hash,
	); err != nil {
		return Event{}, "", err
	}
	event.AppointmentID = apptID.String
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		event.CreatedAt = created
	}
	return event, createdRaw, nil
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
