package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PGLedger implements Ledger using Postgres. Sequence numbers come from the
// table's bigserial column so insertion order survives timestamp ties.
type PGLedger struct {
	DB *sql.DB
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append inserts one entry.
func (l *PGLedger) Append(ctx context.Context, entry Entry) (Entry, error) {
	entry = withDefaults(entry)
	if err := InsertTx(ctx, l.DB, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// InsertTx writes an entry using the given executor. The pipeline repo passes
// its open transaction here so the audit row commits or rolls back with the
// state change it records.
func InsertTx(ctx context.Context, ex execer, entry Entry) error {
	entry = withDefaults(entry)
	payload, err := marshalPayload(entry.Payload)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO audit_trail (id, document_id, actor_type, actor_id, action, from_state, to_state, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = ex.ExecContext(ctx, query,
		entry.ID,
		entry.DocumentID,
		entry.ActorType,
		nullString(entry.ActorID),
		entry.Action,
		nullString(entry.FromState),
		nullString(entry.ToState),
		payload,
		entry.CreatedAt,
	)
	return err
}

// History returns entries for a document ordered by sequence.
func (l *PGLedger) History(ctx context.Context, documentID string) ([]Entry, error) {
	const query = `
SELECT id, document_id, actor_type, actor_id, action, from_state, to_state, payload, seq, created_at
FROM audit_trail
WHERE document_id = $1
ORDER BY seq ASC`
	rows, err := l.DB.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var actorID, fromState, toState sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.ActorType, &actorID, &e.Action, &fromState, &toState, &payload, &e.Seq, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = actorID.String
		e.FromState = fromState.String
		e.ToState = toState.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func withDefaults(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}

func marshalPayload(payload map[string]any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
