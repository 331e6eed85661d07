package pipeline

import (
	"time"

	"docrecon-backend/internal/reconcile"
)

// Document is the unit of work moving through the pipeline. It is mutated
// only by state transitions and never deleted.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	UploadedAt time.Time `json:"uploadedAt"`
	State      State     `json:"state"`
	SourceURI  string    `json:"sourceUri,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	StorageKey string    `json:"-"`
}

// Field is one extracted or corrected value with its metadata.
type Field struct {
	Value            any      `json:"value"`
	Confidence       *float64 `json:"confidence,omitempty"`
	TypeHint         string   `json:"type_hint,omitempty"`
	CorrectionReason string   `json:"correction_reason,omitempty"`
}

// Record maps field names to values.
type Record map[string]Field

// Values flattens a Record to bare field values for the reconciliation
// engine.
func (r Record) Values() map[string]any {
	out := make(map[string]any, len(r))
	for name, field := range r {
		out[name] = field.Value
	}
	return out
}

// Extraction is an immutable snapshot of machine-extracted fields. A document
// may accumulate several; the latest by creation time is authoritative.
type Extraction struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Fields     Record    `json:"fields"`
	Version    string    `json:"version"`
	Provider   string    `json:"provider"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HilCorrection is an immutable human-submitted field set.
type HilCorrection struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Fields     Record    `json:"fields"`
	Reviewer   string    `json:"reviewer"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Fetch job statuses.
const (
	FetchStatusPending   = "pending"
	FetchStatusCompleted = "completed"
	FetchStatusFailed    = "failed"
)

// TargetResponse captures one target's outcome inside a FetchJob. A failed
// target is recorded here, not surfaced as a stage failure.
type TargetResponse struct {
	Payload map[string]any `json:"payload,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

// FetchJob is one fetch attempt. At most one exists per document.
type FetchJob struct {
	ID         string                    `json:"id"`
	DocumentID string                    `json:"documentId"`
	Status     string                    `json:"status"`
	Targets    []string                  `json:"targets"`
	Responses  map[string]TargetResponse `json:"responses"`
	StartedAt  time.Time                 `json:"startedAt"`
	FinishedAt *time.Time                `json:"finishedAt,omitempty"`
}

// MergedPayload folds all successful target payloads into one field map;
// later targets overwrite earlier ones on key collisions.
func (j FetchJob) MergedPayload() map[string]any {
	merged := make(map[string]any)
	for _, target := range j.Targets {
		resp, ok := j.Responses[target]
		if !ok || !resp.Success {
			continue
		}
		for k, v := range resp.Payload {
			merged[k] = v
		}
	}
	return merged
}

// ReconciliationResult is one reconciliation attempt. At most one exists per
// document.
type ReconciliationResult struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"documentId"`
	Strategy   string           `json:"strategy"`
	Diffs      []reconcile.Diff `json:"diffs"`
	Score      float64          `json:"score_overall"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Decision values for FinalDecision.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// FinalDecision locks a document. Zero or one exists per document.
type FinalDecision struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Decision   string    `json:"decision"`
	Decider    string    `json:"decider"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
