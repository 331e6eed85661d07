package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docrecon-backend/internal/audit"
	"docrecon-backend/internal/reconcile"
)

// PGRepo implements Repo using Postgres. Each composite write runs in one
// transaction: the document row is locked with SELECT ... FOR UPDATE, the
// state change is a compare-and-set on the current state, and the audit row
// commits with everything else.
type PGRepo struct {
	DB *sql.DB
}

// CreateDocument inserts a new document.
func (r *PGRepo) CreateDocument(ctx context.Context, doc Document) error {
	const insertDoc = `
INSERT INTO documents (id, filename, mime_type, uploaded_at, state, source_uri, checksum, storage_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.DB.ExecContext(ctx, insertDoc,
		doc.ID, doc.Filename, doc.MimeType, doc.UploadedAt, string(doc.State),
		nullable(doc.SourceURI), nullable(doc.Checksum), nullable(doc.StorageKey),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// SaveExtraction stores the extraction and advances the document from the expected state to the target state.
func (r *PGRepo) SaveExtraction(ctx context.Context, ext Extraction, from, to State, entry audit.Entry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockDocument(ctx, tx, ext.DocumentID); err != nil {
		return err
	}
	if err := casState(ctx, tx, ext.DocumentID, []State{from}, to); err != nil {
		return err
	}
	if err := insertExtraction(ctx, tx, ext); err != nil {
		return err
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return tx.Commit()
}

// GetDocument returns a document by id.
func (r *PGRepo) GetDocument(ctx context.Context, documentID string) (Document, error) {
	const query = `
SELECT id, filename, mime_type, uploaded_at, state, source_uri, checksum, storage_key
FROM documents
WHERE id = $1`
	return scanDocument(r.DB.QueryRowContext(ctx, query, documentID))
}

// LatestExtraction returns the newest extraction for a document.
func (r *PGRepo) LatestExtraction(ctx context.Context, documentID string) (Extraction, error) {
	const query = `
SELECT id, document_id, fields, version, provider, created_at
FROM extractions
WHERE document_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`
	var ext Extraction
	var fields []byte
	err := r.DB.QueryRowContext(ctx, query, documentID).
		Scan(&ext.ID, &ext.DocumentID, &fields, &ext.Version, &ext.Provider, &ext.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Extraction{}, ErrNotFound
	}
	if err != nil {
		return Extraction{}, err
	}
	if err := json.Unmarshal(fields, &ext.Fields); err != nil {
		return Extraction{}, fmt.Errorf("decode extraction fields: %w", err)
	}
	return ext, nil
}

// LatestCorrection returns the newest correction for a document.
func (r *PGRepo) LatestCorrection(ctx context.Context, documentID string) (HilCorrection, error) {
	const query = `
SELECT id, document_id, fields, reviewer, notes, created_at
FROM hil_corrections
WHERE document_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`
	var corr HilCorrection
	var fields []byte
	var notes sql.NullString
	err := r.DB.QueryRowContext(ctx, query, documentID).
		Scan(&corr.ID, &corr.DocumentID, &fields, &corr.Reviewer, &notes, &corr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return HilCorrection{}, ErrNotFound
	}
	if err != nil {
		return HilCorrection{}, err
	}
	corr.Notes = notes.String
	if err := json.Unmarshal(fields, &corr.Fields); err != nil {
		return HilCorrection{}, fmt.Errorf("decode correction fields: %w", err)
	}
	return corr, nil
}

// LatestFetchJob returns the fetch job for a document.
func (r *PGRepo) LatestFetchJob(ctx context.Context, documentID string) (FetchJob, error) {
	const query = `
SELECT id, document_id, status, targets, responses, started_at, finished_at
FROM fetch_jobs
WHERE document_id = $1
ORDER BY started_at DESC, id DESC
LIMIT 1`
	return scanFetchJob(r.DB.QueryRowContext(ctx, query, documentID))
}

// LatestReconciliation returns the reconciliation result for a document.
func (r *PGRepo) LatestReconciliation(ctx context.Context, documentID string) (ReconciliationResult, error) {
	const query = `
SELECT id, document_id, strategy, diffs, score_overall, created_at
FROM reconciliation_results
WHERE document_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`
	return scanReconciliation(r.DB.QueryRowContext(ctx, query, documentID))
}

// Decision returns the final decision for a document.
func (r *PGRepo) Decision(ctx context.Context, documentID string) (FinalDecision, error) {
	const query = `
SELECT id, document_id, decision, decider, notes, created_at
FROM final_decisions
WHERE document_id = $1
LIMIT 1`
	var dec FinalDecision
	var notes sql.NullString
	err := r.DB.QueryRowContext(ctx, query, documentID).
		Scan(&dec.ID, &dec.DocumentID, &dec.Decision, &dec.Decider, &notes, &dec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FinalDecision{}, ErrNotFound
	}
	if err != nil {
		return FinalDecision{}, err
	}
	dec.Notes = notes.String
	return dec, nil
}

// SaveCorrection stores the correction and advances the document from the expected state to the target state.
func (r *PGRepo) SaveCorrection(ctx context.Context, corr HilCorrection, from, to State, entry audit.Entry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockDocument(ctx, tx, corr.DocumentID); err != nil {
		return err
	}
	if err := casState(ctx, tx, corr.DocumentID, []State{from}, to); err != nil {
		return err
	}

	fields, err := json.Marshal(corr.Fields)
	if err != nil {
		return fmt.Errorf("encode correction fields: %w", err)
	}
	const insert = `
INSERT INTO hil_corrections (id, document_id, fields, reviewer, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, insert,
		corr.ID, corr.DocumentID, fields, corr.Reviewer, nullable(corr.Notes), corr.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return tx.Commit()
}

// CreateFetchJob stores the job once and advances the document state. An
// existing job short-circuits to a no-op.
func (r *PGRepo) CreateFetchJob(ctx context.Context, job FetchJob, from []State, to State, entry audit.Entry) (FetchJob, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return FetchJob{}, false, err
	}
	defer tx.Rollback()

	if err := lockDocument(ctx, tx, job.DocumentID); err != nil {
		return FetchJob{}, false, err
	}

	const existingQuery = `
SELECT id, document_id, status, targets, responses, started_at, finished_at
FROM fetch_jobs
WHERE document_id = $1
ORDER BY started_at DESC, id DESC
LIMIT 1`
	existing, err := scanFetchJob(tx.QueryRowContext(ctx, existingQuery, job.DocumentID))
	if err == nil {
		if err := tx.Commit(); err != nil {
			return FetchJob{}, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return FetchJob{}, false, err
	}

	if err := casState(ctx, tx, job.DocumentID, from, to); err != nil {
		return FetchJob{}, false, err
	}

	targets, err := json.Marshal(job.Targets)
	if err != nil {
		return FetchJob{}, false, fmt.Errorf("encode targets: %w", err)
	}
	responses, err := json.Marshal(job.Responses)
	if err != nil {
		return FetchJob{}, false, fmt.Errorf("encode responses: %w", err)
	}
	const insert = `
INSERT INTO fetch_jobs (id, document_id, status, targets, responses, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, insert,
		job.ID, job.DocumentID, job.Status, targets, responses, job.StartedAt, job.FinishedAt,
	); err != nil {
		return FetchJob{}, false, fmt.Errorf("insert fetch job: %w", err)
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return FetchJob{}, false, fmt.Errorf("append audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return FetchJob{}, false, err
	}
	return job, true, nil
}

// CreateReconciliation stores the result once and advances the document
// state.
func (r *PGRepo) CreateReconciliation(ctx context.Context, result ReconciliationResult, from, to State, entry audit.Entry) (ReconciliationResult, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReconciliationResult{}, false, err
	}
	defer tx.Rollback()

	if err := lockDocument(ctx, tx, result.DocumentID); err != nil {
		return ReconciliationResult{}, false, err
	}

	const existingQuery = `
SELECT id, document_id, strategy, diffs, score_overall, created_at
FROM reconciliation_results
WHERE document_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`
	existing, err := scanReconciliation(tx.QueryRowContext(ctx, existingQuery, result.DocumentID))
	if err == nil {
		if err := tx.Commit(); err != nil {
			return ReconciliationResult{}, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ReconciliationResult{}, false, err
	}

	if err := casState(ctx, tx, result.DocumentID, []State{from}, to); err != nil {
		return ReconciliationResult{}, false, err
	}

	diffs, err := json.Marshal(result.Diffs)
	if err != nil {
		return ReconciliationResult{}, false, fmt.Errorf("encode diffs: %w", err)
	}
	const insert = `
INSERT INTO reconciliation_results (id, document_id, strategy, diffs, score_overall, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, insert,
		result.ID, result.DocumentID, result.Strategy, diffs, result.Score, result.CreatedAt,
	); err != nil {
		return ReconciliationResult{}, false, fmt.Errorf("insert reconciliation: %w", err)
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return ReconciliationResult{}, false, fmt.Errorf("append audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ReconciliationResult{}, false, err
	}
	return result, true, nil
}

// CreateDecision stores the decision and locks the document.
func (r *PGRepo) CreateDecision(ctx context.Context, decision FinalDecision, from, to State, entry audit.Entry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockDocument(ctx, tx, decision.DocumentID); err != nil {
		return err
	}

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM final_decisions WHERE document_id = $1 LIMIT 1`, decision.DocumentID).Scan(&existingID)
	if err == nil {
		return ErrAlreadyFinalized
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if err := casState(ctx, tx, decision.DocumentID, []State{from}, to); err != nil {
		return err
	}

	const insert = `
INSERT INTO final_decisions (id, document_id, decision, decider, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, insert,
		decision.ID, decision.DocumentID, decision.Decision, decision.Decider, nullable(decision.Notes), decision.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return tx.Commit()
}

// MarkFailed moves a non-terminal document to FAILED.
func (r *PGRepo) MarkFailed(ctx context.Context, documentID string, entry audit.Entry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := lockDocument(ctx, tx, documentID); err != nil {
		return err
	}
	const update = `
UPDATE documents SET state = $1
WHERE id = $2 AND state NOT IN ('APPROVED', 'REJECTED', 'FAILED')`
	res, err := tx.ExecContext(ctx, update, string(StateFailed), documentID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidState
	}
	if err := audit.InsertTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return tx.Commit()
}

// lockDocument serializes writers on the document row. ErrNotFound when the
// id is unknown.
func lockDocument(ctx context.Context, tx *sql.Tx, documentID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// casState moves the document to the target state only if its current state
// is in the allowed set.
func casState(ctx context.Context, tx *sql.Tx, documentID string, from []State, to State) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	const update = `
UPDATE documents SET state = $1
WHERE id = $2 AND state = ANY(string_to_array($3, ','))`
	res, err := tx.ExecContext(ctx, update, string(to), documentID, strings.Join(states, ","))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidState
	}
	return nil
}

func insertExtraction(ctx context.Context, tx *sql.Tx, ext Extraction) error {
	fields, err := json.Marshal(ext.Fields)
	if err != nil {
		return fmt.Errorf("encode extraction fields: %w", err)
	}
	const insert = `
INSERT INTO extractions (id, document_id, fields, version, provider, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.ExecContext(ctx, insert,
		ext.ID, ext.DocumentID, fields, ext.Version, ext.Provider, ext.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var state string
	var sourceURI, checksum, storageKey sql.NullString
	err := row.Scan(&doc.ID, &doc.Filename, &doc.MimeType, &doc.UploadedAt, &state, &sourceURI, &checksum, &storageKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	doc.State = State(state)
	doc.SourceURI = sourceURI.String
	doc.Checksum = checksum.String
	doc.StorageKey = storageKey.String
	return doc, nil
}

func scanFetchJob(row rowScanner) (FetchJob, error) {
	var job FetchJob
	var targets, responses []byte
	var finishedAt sql.NullTime
	err := row.Scan(&job.ID, &job.DocumentID, &job.Status, &targets, &responses, &job.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FetchJob{}, ErrNotFound
	}
	if err != nil {
		return FetchJob{}, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if err := json.Unmarshal(targets, &job.Targets); err != nil {
		return FetchJob{}, fmt.Errorf("decode targets: %w", err)
	}
	if err := json.Unmarshal(responses, &job.Responses); err != nil {
		return FetchJob{}, fmt.Errorf("decode responses: %w", err)
	}
	return job, nil
}

func scanReconciliation(row rowScanner) (ReconciliationResult, error) {
	var result ReconciliationResult
	var diffs []byte
	err := row.Scan(&result.ID, &result.DocumentID, &result.Strategy, &diffs, &result.Score, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ReconciliationResult{}, ErrNotFound
	}
	if err != nil {
		return ReconciliationResult{}, err
	}
	var parsed []reconcile.Diff
	if err := json.Unmarshal(diffs, &parsed); err != nil {
		return ReconciliationResult{}, fmt.Errorf("decode diffs: %w", err)
	}
	result.Diffs = parsed
	return result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
