package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docrecon-backend/internal/audit"
	"docrecon-backend/internal/reconcile"
	"docrecon-backend/internal/shared/metrics"
	"docrecon-backend/internal/shared/storage/object"
	"docrecon-backend/internal/shared/telemetry"
	"docrecon-backend/internal/shared/util"
)

// Extractor turns raw document bytes into a field record.
type Extractor interface {
	Extract(ctx context.Context, content []byte, mimeType, fileName string) (Record, error)
}

// DocumentView is the read-only slice of a document handed to fetch adapters.
// Corrected carries the reviewer-confirmed field values.
type DocumentView struct {
	ID        string
	Filename  string
	MimeType  string
	Corrected map[string]any
}

// Fetcher runs external comparator lookups. One response per requested
// target; per-target failures come back as failed responses, not errors.
type Fetcher interface {
	Run(ctx context.Context, targets []string, doc DocumentView) map[string]TargetResponse
}

// Service drives documents through the pipeline stages. Every transition goes
// through Repo so the record, state change, and audit entry commit together.
type Service struct {
	Repo           Repo
	Ledger         audit.Ledger
	Store          object.ObjectStore
	Extractor      Extractor
	Fetcher        Fetcher
	Tolerances     reconcile.Tolerances
	DefaultTargets []string
	ExtractTimeout time.Duration

	// Provenance tags stamped onto extractions.
	ExtractProvider string
	ExtractVersion  string
}

// Audit action names. FETCH_PENDING is a transient state inside the fetch
// stage and never produces its own entry.
const (
	ActionIngested     = "INGESTED"
	ActionIngestFailed = "INGEST_FAILED"
	ActionHilConfirmed = "HIL_CONFIRMED"
	ActionFetched      = "FETCHED"
	ActionFetchFailed  = "FETCH_FAILED"
	ActionReconciled   = "RECONCILED"
	ActionFinalized    = "FINALIZED"
)

// IngestInput is the material for a new document.
type IngestInput struct {
	FileName  string
	MimeType  string
	Content   []byte
	SourceURI string
}

// IngestResult pairs the created document with its extraction.
type IngestResult struct {
	Document   Document
	Extraction Extraction
}

// Ingest registers a document, stores its raw bytes, runs extraction, and
// leaves the document awaiting human review. Extractor failure moves the
// document to FAILED rather than leaving it dangling in INGESTED.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (IngestResult, error) {
	if in.FileName == "" {
		return IngestResult{}, fmt.Errorf("%w: file name is required", ErrMissingInput)
	}
	if len(in.Content) == 0 {
		return IngestResult{}, fmt.Errorf("%w: document content is required", ErrMissingInput)
	}
	start := time.Now()

	doc := Document{
		ID:         uuid.NewString(),
		Filename:   in.FileName,
		MimeType:   in.MimeType,
		UploadedAt: time.Now().UTC(),
		State:      StateIngested,
		SourceURI:  in.SourceURI,
		Checksum:   util.ChecksumHex(in.Content),
	}

	if s.Store != nil {
		key, _, sniffed, err := s.Store.Save(ctx, doc.ID, in.FileName, bytes.NewReader(in.Content))
		if err != nil {
			return IngestResult{}, fmt.Errorf("store document: %w", err)
		}
		doc.StorageKey = key
		if doc.MimeType == "" {
			doc.MimeType = sniffed
		}
	}

	if err := s.Repo.CreateDocument(ctx, doc); err != nil {
		return IngestResult{}, err
	}

	extractCtx := ctx
	if s.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, s.ExtractTimeout)
		defer cancel()
	}
	fields, err := s.Extractor.Extract(extractCtx, in.Content, doc.MimeType, in.FileName)
	if err != nil {
		entry := s.entry(doc.ID, audit.ActorSystem, "", ActionIngestFailed, StateIngested, StateFailed, map[string]any{
			"error": err.Error(),
		})
		if failErr := s.Repo.MarkFailed(ctx, doc.ID, entry); failErr != nil {
			telemetry.Error("pipeline.mark_failed", map[string]any{"document_id": doc.ID, "err": failErr.Error()})
		}
		metrics.IncDocumentFailed()
		s.logTransition(doc.ID, StateIngested, StateFailed, ActionIngestFailed)
		return IngestResult{}, fmt.Errorf("%w: extraction: %v", ErrCollaborator, err)
	}

	ext := Extraction{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Fields:     fields,
		Version:    s.ExtractVersion,
		Provider:   s.ExtractProvider,
		CreatedAt:  time.Now().UTC(),
	}
	entry := s.entry(doc.ID, audit.ActorSystem, "", ActionIngested, StateIngested, StateHilRequired, map[string]any{
		"provider":    ext.Provider,
		"version":     ext.Version,
		"field_count": len(fields),
	})
	if err := s.Repo.SaveExtraction(ctx, ext, StateIngested, StateHilRequired, entry); err != nil {
		return IngestResult{}, err
	}
	doc.State = StateHilRequired

	metrics.IncDocumentIngested()
	metrics.ObserveStageDurationMs(float64(time.Since(start).Milliseconds()))
	s.logTransition(doc.ID, StateIngested, StateHilRequired, ActionIngested)
	return IngestResult{Document: doc, Extraction: ext}, nil
}

// ReviewView is the material a human reviewer sees: the machine extraction
// and, when present, the latest correction.
type ReviewView struct {
	Document   Document
	Extraction Extraction
	Correction *HilCorrection
}

// Review returns the review material for a document.
func (s *Service) Review(ctx context.Context, documentID string) (ReviewView, error) {
	doc, err := s.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return ReviewView{}, err
	}
	ext, err := s.Repo.LatestExtraction(ctx, documentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ReviewView{}, err
	}
	view := ReviewView{Document: doc, Extraction: ext}
	corr, err := s.Repo.LatestCorrection(ctx, documentID)
	if err == nil {
		view.Correction = &corr
	} else if !errors.Is(err, ErrNotFound) {
		return ReviewView{}, err
	}
	return view, nil
}

// Confirm records the reviewer's corrections over the latest extraction and
// advances the document to HIL_CONFIRMED. The stored record is the full
// corrected field set: extraction values overlaid with the submitted fields.
func (s *Service) Confirm(ctx context.Context, documentID string, fields Record, reviewer, notes string) (HilCorrection, error) {
	if reviewer == "" {
		reviewer = "reviewer"
	}
	doc, err := s.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return HilCorrection{}, err
	}
	if doc.State != StateHilRequired {
		return HilCorrection{}, fmt.Errorf("%w: document is %s, expected %s", ErrInvalidState, doc.State, StateHilRequired)
	}
	ext, err := s.Repo.LatestExtraction(ctx, documentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return HilCorrection{}, fmt.Errorf("%w: no extraction to confirm", ErrMissingInput)
		}
		return HilCorrection{}, err
	}

	merged := make(Record, len(ext.Fields)+len(fields))
	for name, field := range ext.Fields {
		merged[name] = field
	}
	for name, field := range fields {
		merged[name] = field
	}

	corr := HilCorrection{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Fields:     merged,
		Reviewer:   reviewer,
		Notes:      notes,
		CreatedAt:  time.Now().UTC(),
	}
	entry := s.entry(documentID, audit.ActorUser, reviewer, ActionHilConfirmed, StateHilRequired, StateHilConfirmed, map[string]any{
		"corrected_fields": len(fields),
	})
	if err := s.Repo.SaveCorrection(ctx, corr, StateHilRequired, StateHilConfirmed, entry); err != nil {
		return HilCorrection{}, err
	}
	s.logTransition(documentID, StateHilRequired, StateHilConfirmed, ActionHilConfirmed)
	return corr, nil
}

// Fetch runs comparator lookups for a confirmed document. A second call is a
// no-op returning the existing job. When every target fails the document
// moves to FAILED and the job records the per-target errors.
func (s *Service) Fetch(ctx context.Context, documentID string, targets []string) (FetchJob, error) {
	doc, err := s.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return FetchJob{}, err
	}
	if existing, err := s.Repo.LatestFetchJob(ctx, documentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return FetchJob{}, err
	}
	if !doc.State.in(StateHilConfirmed, StateFetchPending) {
		return FetchJob{}, fmt.Errorf("%w: document is %s, expected %s", ErrInvalidState, doc.State, StateHilConfirmed)
	}
	start := time.Now()

	corrected, err := s.correctedValues(ctx, documentID)
	if err != nil {
		return FetchJob{}, err
	}
	if len(targets) == 0 {
		targets = s.DefaultTargets
	}

	view := DocumentView{ID: doc.ID, Filename: doc.Filename, MimeType: doc.MimeType, Corrected: corrected}
	responses := s.Fetcher.Run(ctx, targets, view)

	succeeded := 0
	for _, resp := range responses {
		if resp.Success {
			succeeded++
		}
	}

	finished := time.Now().UTC()
	job := FetchJob{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Status:     FetchStatusCompleted,
		Targets:    targets,
		Responses:  responses,
		StartedAt:  start.UTC(),
		FinishedAt: &finished,
	}

	if succeeded == 0 {
		job.Status = FetchStatusFailed
		entry := s.entry(documentID, audit.ActorAgent, "", ActionFetchFailed, doc.State, StateFailed, map[string]any{
			"targets": targets,
		})
		stored, created, err := s.Repo.CreateFetchJob(ctx, job, []State{StateHilConfirmed, StateFetchPending}, StateFailed, entry)
		if err != nil {
			return FetchJob{}, err
		}
		if !created {
			return stored, nil
		}
		metrics.IncDocumentFailed()
		s.logTransition(documentID, doc.State, StateFailed, ActionFetchFailed)
		return stored, fmt.Errorf("%w: all fetch targets failed", ErrCollaborator)
	}

	entry := s.entry(documentID, audit.ActorAgent, "", ActionFetched, doc.State, StateFetched, map[string]any{
		"targets":   targets,
		"succeeded": succeeded,
	})
	stored, created, err := s.Repo.CreateFetchJob(ctx, job, []State{StateHilConfirmed, StateFetchPending}, StateFetched, entry)
	if err != nil {
		return FetchJob{}, err
	}
	if created {
		metrics.ObserveStageDurationMs(float64(time.Since(start).Milliseconds()))
		s.logTransition(documentID, doc.State, StateFetched, ActionFetched)
	}
	return stored, nil
}

// Reconcile compares the confirmed fields against the fetched payload. A
// second call is a no-op returning the existing result.
func (s *Service) Reconcile(ctx context.Context, documentID, strategy string) (ReconciliationResult, error) {
	doc, err := s.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return ReconciliationResult{}, err
	}
	if existing, err := s.Repo.LatestReconciliation(ctx, documentID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return ReconciliationResult{}, err
	}
	if doc.State != StateFetched {
		return ReconciliationResult{}, fmt.Errorf("%w: document is %s, expected %s", ErrInvalidState, doc.State, StateFetched)
	}
	start := time.Now()

	corrected, err := s.correctedValues(ctx, documentID)
	if err != nil {
		return ReconciliationResult{}, err
	}
	job, err := s.Repo.LatestFetchJob(ctx, documentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ReconciliationResult{}, fmt.Errorf("%w: no fetch job", ErrMissingInput)
		}
		return ReconciliationResult{}, err
	}
	fetched := job.MergedPayload()
	if len(fetched) == 0 {
		return ReconciliationResult{}, fmt.Errorf("%w: no successful fetch responses", ErrMissingInput)
	}

	parsed := reconcile.ParseStrategy(strategy)
	outcome := reconcile.Compare(corrected, fetched, parsed, s.Tolerances)

	result := ReconciliationResult{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Strategy:   string(parsed),
		Diffs:      outcome.Diffs,
		Score:      outcome.Score,
		CreatedAt:  time.Now().UTC(),
	}
	entry := s.entry(documentID, audit.ActorSystem, "", ActionReconciled, StateFetched, StateReconciled, map[string]any{
		"strategy":      string(parsed),
		"score_overall": outcome.Score,
	})
	stored, created, err := s.Repo.CreateReconciliation(ctx, result, StateFetched, StateReconciled, entry)
	if err != nil {
		return ReconciliationResult{}, err
	}
	if created {
		metrics.ObserveStageDurationMs(float64(time.Since(start).Milliseconds()))
		s.logTransition(documentID, StateFetched, StateReconciled, ActionReconciled)
	}
	return stored, nil
}

// Finalize locks the document with an APPROVED or REJECTED decision. A
// document already carrying a decision returns ErrAlreadyFinalized.
func (s *Service) Finalize(ctx context.Context, documentID, decision, decider, notes string) (FinalDecision, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return FinalDecision{}, fmt.Errorf("%w: decision must be %s or %s", ErrMissingInput, DecisionApproved, DecisionRejected)
	}
	if decider == "" {
		decider = "reviewer"
	}
	if _, err := s.Repo.GetDocument(ctx, documentID); err != nil {
		return FinalDecision{}, err
	}

	dec := FinalDecision{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Decision:   decision,
		Decider:    decider,
		Notes:      notes,
		CreatedAt:  time.Now().UTC(),
	}
	entry := s.entry(documentID, audit.ActorUser, decider, ActionFinalized, StateReconciled, State(decision), map[string]any{
		"decision": decision,
	})
	if err := s.Repo.CreateDecision(ctx, dec, StateReconciled, State(decision), entry); err != nil {
		return FinalDecision{}, err
	}
	metrics.IncDocumentFinalized()
	s.logTransition(documentID, StateReconciled, State(decision), ActionFinalized)
	return dec, nil
}

// Report is the full picture of a document: every stage artifact that exists
// plus the complete audit history.
type Report struct {
	Document       Document              `json:"document"`
	State          string                `json:"state"`
	Extraction     *Extraction           `json:"extraction,omitempty"`
	Correction     *HilCorrection        `json:"correction,omitempty"`
	FetchJob       *FetchJob             `json:"fetch_job,omitempty"`
	Reconciliation *ReconciliationResult `json:"reconciliation,omitempty"`
	Decision       *FinalDecision        `json:"decision,omitempty"`
	Audit          []audit.Entry         `json:"audit"`
}

// Report assembles the reconciliation report for a document at any stage.
func (s *Service) Report(ctx context.Context, documentID string) (Report, error) {
	doc, err := s.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return Report{}, err
	}
	report := Report{Document: doc, State: doc.State.Display()}

	if ext, err := s.Repo.LatestExtraction(ctx, documentID); err == nil {
		report.Extraction = &ext
	} else if !errors.Is(err, ErrNotFound) {
		return Report{}, err
	}
	if corr, err := s.Repo.LatestCorrection(ctx, documentID); err == nil {
		report.Correction = &corr
	} else if !errors.Is(err, ErrNotFound) {
		return Report{}, err
	}
	if job, err := s.Repo.LatestFetchJob(ctx, documentID); err == nil {
		report.FetchJob = &job
	} else if !errors.Is(err, ErrNotFound) {
		return Report{}, err
	}
	if result, err := s.Repo.LatestReconciliation(ctx, documentID); err == nil {
		report.Reconciliation = &result
	} else if !errors.Is(err, ErrNotFound) {
		return Report{}, err
	}
	if dec, err := s.Repo.Decision(ctx, documentID); err == nil {
		report.Decision = &dec
	} else if !errors.Is(err, ErrNotFound) {
		return Report{}, err
	}

	history, err := s.Ledger.History(ctx, documentID)
	if err != nil {
		return Report{}, err
	}
	report.Audit = history
	return report, nil
}

// correctedValues returns the latest human-confirmed field values, falling
// back to the machine extraction when no correction exists yet.
func (s *Service) correctedValues(ctx context.Context, documentID string) (map[string]any, error) {
	if corr, err := s.Repo.LatestCorrection(ctx, documentID); err == nil {
		return corr.Fields.Values(), nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	ext, err := s.Repo.LatestExtraction(ctx, documentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: no extracted fields", ErrMissingInput)
		}
		return nil, err
	}
	return ext.Fields.Values(), nil
}

func (s *Service) entry(documentID, actorType, actorID, action string, from, to State, payload map[string]any) audit.Entry {
	return audit.Entry{
		DocumentID: documentID,
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		FromState:  string(from),
		ToState:    string(to),
		Payload:    payload,
	}
}

func (s *Service) logTransition(documentID string, from, to State, action string) {
	telemetry.Info("pipeline.transition", map[string]any{
		"document_id": documentID,
		"from":        string(from),
		"to":          string(to),
		"action":      action,
	})
}
