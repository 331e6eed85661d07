package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"docrecon-backend/internal/audit"
)

func newPGRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreateDocument(t *testing.T) {
	repo, mock := newPGRepo(t)
	doc := Document{
		ID:         "doc-1",
		Filename:   "invoice.pdf",
		MimeType:   "application/pdf",
		UploadedAt: time.Now().UTC(),
		State:      StateIngested,
		Checksum:   "abc",
		StorageKey: "k/doc-1",
	}

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.ID, doc.Filename, doc.MimeType, doc.UploadedAt, string(StateIngested), nil, "abc", "k/doc-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSaveExtractionCommitsStateAndAudit(t *testing.T) {
	repo, mock := newPGRepo(t)
	ext := Extraction{
		ID:         "ext-1",
		DocumentID: "doc-1",
		Fields:     Record{"amount": {Value: "100.00"}},
		Version:    "1.0",
		Provider:   "heuristic",
		CreatedAt:  time.Now().UTC(),
	}
	entry := audit.Entry{
		ID:         "audit-1",
		DocumentID: "doc-1",
		ActorType:  audit.ActorSystem,
		Action:     "INGESTED",
		FromState:  "INGESTED",
		ToState:    "HIL_REQUIRED",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM documents WHERE id = \\$1 FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectExec("UPDATE documents SET state").
		WithArgs("HIL_REQUIRED", "doc-1", "INGESTED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO extractions").
		WithArgs(ext.ID, ext.DocumentID, sqlmock.AnyArg(), ext.Version, ext.Provider, ext.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_trail").
		WithArgs(entry.ID, entry.DocumentID, entry.ActorType, nil, entry.Action, entry.FromState, entry.ToState, nil, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.SaveExtraction(context.Background(), ext, StateIngested, StateHilRequired, entry); err != nil {
		t.Fatalf("SaveExtraction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSaveCorrectionWrongState(t *testing.T) {
	repo, mock := newPGRepo(t)
	corr := HilCorrection{
		ID:         "corr-1",
		DocumentID: "doc-1",
		Fields:     Record{"vendor": {Value: "ACME"}},
		Reviewer:   "alice",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM documents WHERE id = \\$1 FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	// CAS misses because the document is not in HIL_REQUIRED.
	mock.ExpectExec("UPDATE documents SET state").
		WithArgs("HIL_CONFIRMED", "doc-1", "HIL_REQUIRED").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SaveCorrection(context.Background(), corr, StateHilRequired, StateHilConfirmed, audit.Entry{ID: "a", DocumentID: "doc-1", ActorType: audit.ActorUser, Action: "HIL_CONFIRMED", CreatedAt: time.Now().UTC()})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoLockUnknownDocument(t *testing.T) {
	repo, mock := newPGRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM documents WHERE id = \\$1 FOR UPDATE").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.MarkFailed(context.Background(), "missing", audit.Entry{ID: "a", DocumentID: "missing", ActorType: audit.ActorSystem, Action: "INGEST_FAILED", CreatedAt: time.Now().UTC()})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCreateDecisionAlreadyFinalized(t *testing.T) {
	repo, mock := newPGRepo(t)
	decision := FinalDecision{
		ID:         "dec-2",
		DocumentID: "doc-1",
		Decision:   DecisionRejected,
		Decider:    "bob",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM documents WHERE id = \\$1 FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectQuery("SELECT id FROM final_decisions").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("dec-1"))
	mock.ExpectRollback()

	err := repo.CreateDecision(context.Background(), decision, StateReconciled, StateRejected, audit.Entry{ID: "a", DocumentID: "doc-1", ActorType: audit.ActorUser, Action: "FINALIZED", CreatedAt: time.Now().UTC()})
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("got %v, want ErrAlreadyFinalized", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCreateFetchJobReturnsExisting(t *testing.T) {
	repo, mock := newPGRepo(t)
	started := time.Now().UTC()
	job := FetchJob{
		ID:         "job-2",
		DocumentID: "doc-1",
		Status:     FetchStatusCompleted,
		Targets:    []string{"example_vendor"},
		Responses:  map[string]TargetResponse{"example_vendor": {Success: true}},
		StartedAt:  started,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM documents WHERE id = \\$1 FOR UPDATE").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))
	mock.ExpectQuery("SELECT id, document_id, status, targets, responses, started_at, finished_at").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "status", "targets", "responses", "started_at", "finished_at"}).
			AddRow("job-1", "doc-1", FetchStatusCompleted, `["example_vendor"]`, `{"example_vendor":{"success":true}}`, started, nil))
	mock.ExpectCommit()

	stored, created, err := repo.CreateFetchJob(context.Background(), job, []State{StateHilConfirmed, StateFetchPending}, StateFetched, audit.Entry{ID: "a", DocumentID: "doc-1", ActorType: audit.ActorAgent, Action: "FETCHED", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("CreateFetchJob: %v", err)
	}
	if created {
		t.Fatalf("expected existing job, got created")
	}
	if stored.ID != "job-1" {
		t.Fatalf("stored.ID = %s, want job-1", stored.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
