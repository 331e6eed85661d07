package audit

import "time"

// Actor types recorded on audit entries.
const (
	ActorSystem = "SYSTEM"
	ActorUser   = "USER"
	ActorAgent  = "AGENT"
)

// Entry is one immutable audit record. Entries are only ever appended; there
// is no update or delete path anywhere in the ledger.
type Entry struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	ActorType  string         `json:"actorType"`
	ActorID    string         `json:"actorId,omitempty"`
	Action     string         `json:"action"`
	FromState  string         `json:"fromState,omitempty"`
	ToState    string         `json:"toState,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Seq        int64          `json:"seq"`
	CreatedAt  time.Time      `json:"createdAt"`
}
