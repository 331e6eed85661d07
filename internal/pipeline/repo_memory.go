package pipeline

import (
	"context"
	"sync"

	"docrecon-backend/internal/audit"
)

// MemoryRepo is an in-memory Repo. A single mutex serializes all mutations,
// which gives the same single-writer-per-document guarantee the Postgres
// implementation gets from row locks.
type MemoryRepo struct {
	mu          sync.RWMutex
	ledger      *audit.MemoryLedger
	documents   map[string]Document
	extractions map[string][]Extraction
	corrections map[string][]HilCorrection
	fetchJobs   map[string]FetchJob
	results     map[string]ReconciliationResult
	decisions   map[string]FinalDecision
}

// NewMemoryRepo constructs a MemoryRepo appending audit entries to the given
// ledger.
func NewMemoryRepo(ledger *audit.MemoryLedger) *MemoryRepo {
	return &MemoryRepo{
		ledger:      ledger,
		documents:   make(map[string]Document),
		extractions: make(map[string][]Extraction),
		corrections: make(map[string][]HilCorrection),
		fetchJobs:   make(map[string]FetchJob),
		results:     make(map[string]ReconciliationResult),
		decisions:   make(map[string]FinalDecision),
	}
}

// CreateDocument inserts a new document.
func (r *MemoryRepo) CreateDocument(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents[doc.ID] = doc
	return nil
}

// SaveExtraction stores the extraction and advances the document from the expected state to the target state.
func (r *MemoryRepo) SaveExtraction(ctx context.Context, ext Extraction, from, to State, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.documents[ext.DocumentID]
	if !ok {
		return ErrNotFound
	}
	if doc.State != from {
		return ErrInvalidState
	}
	doc.State = to
	r.documents[ext.DocumentID] = doc
	r.extractions[ext.DocumentID] = append(r.extractions[ext.DocumentID], ext)
	_, err := r.ledger.Append(ctx, entry)
	return err
}

// GetDocument returns a document by id.
func (r *MemoryRepo) GetDocument(ctx context.Context, documentID string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.documents[documentID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// LatestExtraction returns the newest extraction for a document.
func (r *MemoryRepo) LatestExtraction(ctx context.Context, documentID string) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := r.extractions[documentID]
	if len(exts) == 0 {
		return Extraction{}, ErrNotFound
	}
	return exts[len(exts)-1], nil
}

// LatestCorrection returns the newest correction for a document.
func (r *MemoryRepo) LatestCorrection(ctx context.Context, documentID string) (HilCorrection, error) {
	if err := ctx.Err(); err != nil {
		return HilCorrection{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	corrs := r.corrections[documentID]
	if len(corrs) == 0 {
		return HilCorrection{}, ErrNotFound
	}
	return corrs[len(corrs)-1], nil
}

// LatestFetchJob returns the fetch job for a document.
func (r *MemoryRepo) LatestFetchJob(ctx context.Context, documentID string) (FetchJob, error) {
	if err := ctx.Err(); err != nil {
		return FetchJob{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.fetchJobs[documentID]
	if !ok {
		return FetchJob{}, ErrNotFound
	}
	return job, nil
}

// LatestReconciliation returns the reconciliation result for a document.
func (r *MemoryRepo) LatestReconciliation(ctx context.Context, documentID string) (ReconciliationResult, error) {
	if err := ctx.Err(); err != nil {
		return ReconciliationResult{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[documentID]
	if !ok {
		return ReconciliationResult{}, ErrNotFound
	}
	return result, nil
}

// Decision returns the final decision for a document.
func (r *MemoryRepo) Decision(ctx context.Context, documentID string) (FinalDecision, error) {
	if err := ctx.Err(); err != nil {
		return FinalDecision{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	decision, ok := r.decisions[documentID]
	if !ok {
		return FinalDecision{}, ErrNotFound
	}
	return decision, nil
}

// SaveCorrection stores the correction and advances the document from the expected state to the target state.
func (r *MemoryRepo) SaveCorrection(ctx context.Context, corr HilCorrection, from, to State, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.documents[corr.DocumentID]
	if !ok {
		return ErrNotFound
	}
	if doc.State != from {
		return ErrInvalidState
	}
	doc.State = to
	r.documents[corr.DocumentID] = doc
	r.corrections[corr.DocumentID] = append(r.corrections[corr.DocumentID], corr)
	_, err := r.ledger.Append(ctx, entry)
	return err
}

// CreateFetchJob stores the job once and advances the document state.
func (r *MemoryRepo) CreateFetchJob(ctx context.Context, job FetchJob, from []State, to State, entry audit.Entry) (FetchJob, bool, error) {
	if err := ctx.Err(); err != nil {
		return FetchJob{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.fetchJobs[job.DocumentID]; ok {
		return existing, false, nil
	}
	doc, ok := r.documents[job.DocumentID]
	if !ok {
		return FetchJob{}, false, ErrNotFound
	}
	if !doc.State.in(from...) {
		return FetchJob{}, false, ErrInvalidState
	}
	doc.State = to
	r.documents[job.DocumentID] = doc
	r.fetchJobs[job.DocumentID] = job
	if _, err := r.ledger.Append(ctx, entry); err != nil {
		return FetchJob{}, false, err
	}
	return job, true, nil
}

// CreateReconciliation stores the result once and advances the document state.
func (r *MemoryRepo) CreateReconciliation(ctx context.Context, result ReconciliationResult, from, to State, entry audit.Entry) (ReconciliationResult, bool, error) {
	if err := ctx.Err(); err != nil {
		return ReconciliationResult{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.results[result.DocumentID]; ok {
		return existing, false, nil
	}
	doc, ok := r.documents[result.DocumentID]
	if !ok {
		return ReconciliationResult{}, false, ErrNotFound
	}
	if doc.State != from {
		return ReconciliationResult{}, false, ErrInvalidState
	}
	doc.State = to
	r.documents[result.DocumentID] = doc
	r.results[result.DocumentID] = result
	if _, err := r.ledger.Append(ctx, entry); err != nil {
		return ReconciliationResult{}, false, err
	}
	return result, true, nil
}

// CreateDecision stores the decision and locks the document.
func (r *MemoryRepo) CreateDecision(ctx context.Context, decision FinalDecision, from, to State, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decisions[decision.DocumentID]; ok {
		return ErrAlreadyFinalized
	}
	doc, ok := r.documents[decision.DocumentID]
	if !ok {
		return ErrNotFound
	}
	if doc.State != from {
		return ErrInvalidState
	}
	doc.State = to
	r.documents[decision.DocumentID] = doc
	r.decisions[decision.DocumentID] = decision
	_, err := r.ledger.Append(ctx, entry)
	return err
}

// MarkFailed moves a non-terminal document to FAILED.
func (r *MemoryRepo) MarkFailed(ctx context.Context, documentID string, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	if doc.State.IsTerminal() {
		return ErrInvalidState
	}
	doc.State = StateFailed
	r.documents[documentID] = doc
	_, err := r.ledger.Append(ctx, entry)
	return err
}
