package pipeline

import (
	"context"

	"docrecon-backend/internal/audit"
)

// Repo defines persistence for documents and their child records. Every
// mutating operation is a composite: it writes the child record, applies the
// guarded state change, and appends the audit entry in one atomic unit; no
// state change is durable without its audit entry.
//
// Guarded writes return ErrInvalidState when the document's current state is
// outside the allowed set, leaving state and audit untouched.
type Repo interface {
	// CreateDocument inserts a new document in its initial state. Creation is
	// not a transition, so no audit entry is written here.
	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, documentID string) (Document, error)

	// SaveExtraction stores the extraction and moves the document from the expected state to the target state.
	SaveExtraction(ctx context.Context, ext Extraction, from, to State, entry audit.Entry) error

	LatestExtraction(ctx context.Context, documentID string) (Extraction, error)
	LatestCorrection(ctx context.Context, documentID string) (HilCorrection, error)
	LatestFetchJob(ctx context.Context, documentID string) (FetchJob, error)
	LatestReconciliation(ctx context.Context, documentID string) (ReconciliationResult, error)
	Decision(ctx context.Context, documentID string) (FinalDecision, error)

	// SaveCorrection stores the correction and moves the document from the expected state to the target state.
	SaveCorrection(ctx context.Context, corr HilCorrection, from, to State, entry audit.Entry) error
	// CreateFetchJob stores the job if none exists and moves the document to
	// its fetched state. When a job already exists the call is a no-op that
	// returns the existing job and created=false, regardless of state.
	CreateFetchJob(ctx context.Context, job FetchJob, from []State, to State, entry audit.Entry) (FetchJob, bool, error)
	// CreateReconciliation mirrors CreateFetchJob for reconciliation results.
	CreateReconciliation(ctx context.Context, result ReconciliationResult, from, to State, entry audit.Entry) (ReconciliationResult, bool, error)
	// CreateDecision stores the final decision. A second decision fails with
	// ErrAlreadyFinalized.
	CreateDecision(ctx context.Context, decision FinalDecision, from, to State, entry audit.Entry) error
	// MarkFailed moves a non-terminal document to FAILED.
	MarkFailed(ctx context.Context, documentID string, entry audit.Entry) error
}
