package audit

import "context"

// Ledger is the append-only audit trail. History returns entries for a
// document ordered by sequence number (timestamp ties included).
type Ledger interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	History(ctx context.Context, documentID string) ([]Entry, error)
}
