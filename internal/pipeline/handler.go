package pipeline

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docrecon-backend/internal/reconcile"
	"docrecon-backend/internal/shared/server/respond"
)

const maxIngestSize = 10 << 20 // 10MB decoded

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches pipeline routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/ingest", h.ingest)
	rg.GET("/hil/:documentId", h.getHil)
	rg.PUT("/hil/:documentId", h.putHil)
	rg.POST("/fetch/:documentId", h.fetch)
	rg.POST("/reconcile/:documentId", h.reconcile)
	rg.POST("/finalize/:documentId", h.finalize)
	rg.GET("/reports/:documentId", h.report)
}

type ingestRequest struct {
	Filename      string `json:"filename"`
	MimeType      string `json:"mime_type"`
	Base64Content string `json:"base64_content"`
	SourceURI     string `json:"source_uri"`
}

type ingestResponse struct {
	DocumentID string `json:"document_id"`
	State      string `json:"state"`
	Extracted  Record `json:"extracted"`
}

func (h *Handler) ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "filename is required", nil)
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.Base64Content)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "base64_content is not valid base64", nil)
		return
	}
	if len(content) > maxIngestSize {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "document exceeds the size limit", nil)
		return
	}

	result, err := h.Svc.Ingest(c.Request.Context(), IngestInput{
		FileName:  req.Filename,
		MimeType:  req.MimeType,
		Content:   content,
		SourceURI: req.SourceURI,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, ingestResponse{
		DocumentID: result.Document.ID,
		State:      result.Document.State.Display(),
		Extracted:  result.Extraction.Fields,
	})
}

type hilResponse struct {
	DocumentID string `json:"document_id"`
	State      string `json:"state"`
	Payload    Record `json:"payload"`
}

func (h *Handler) getHil(c *gin.Context) {
	view, err := h.Svc.Review(c.Request.Context(), c.Param("documentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	payload := view.Extraction.Fields
	if view.Correction != nil {
		payload = view.Correction.Fields
	}
	respond.OK(c, hilResponse{
		DocumentID: view.Document.ID,
		State:      view.Document.State.Display(),
		Payload:    payload,
	})
}

type hilRequest struct {
	Corrected Record `json:"corrected"`
	Reviewer  string `json:"reviewer"`
	Notes     string `json:"notes"`
}

func (h *Handler) putHil(c *gin.Context) {
	var req hilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	corr, err := h.Svc.Confirm(c.Request.Context(), c.Param("documentId"), req.Corrected, req.Reviewer, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	respond.OK(c, gin.H{
		"document_id": corr.DocumentID,
		"state":       StateHilConfirmed.Display(),
		"corrected":   corr.Fields,
	})
}

type fetchRequest struct {
	Targets []string `json:"targets"`
}

type fetchResponse struct {
	DocumentID     string   `json:"document_id"`
	State          string   `json:"state"`
	Status         string   `json:"status"`
	FetchedSummary []string `json:"fetched_summary"`
}

func (h *Handler) fetch(c *gin.Context) {
	var req fetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
			return
		}
	}
	documentID := c.Param("documentId")
	job, err := h.Svc.Fetch(c.Request.Context(), documentID, req.Targets)
	if err != nil {
		respondError(c, err)
		return
	}
	doc, err := h.Svc.Repo.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	summary := make([]string, 0, len(job.Responses))
	for _, target := range job.Targets {
		if resp, ok := job.Responses[target]; ok && resp.Success {
			summary = append(summary, target)
		}
	}
	respond.OK(c, fetchResponse{
		DocumentID:     documentID,
		State:          doc.State.Display(),
		Status:         job.Status,
		FetchedSummary: summary,
	})
}

type reconcileRequest struct {
	Strategy string `json:"strategy"`
}

type reconcileResponse struct {
	DocumentID   string           `json:"document_id"`
	State        string           `json:"state"`
	Strategy     string           `json:"strategy"`
	Result       []reconcile.Diff `json:"result"`
	ScoreOverall float64          `json:"score_overall"`
}

func (h *Handler) reconcile(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
			return
		}
	}
	documentID := c.Param("documentId")
	result, err := h.Svc.Reconcile(c.Request.Context(), documentID, req.Strategy)
	if err != nil {
		respondError(c, err)
		return
	}
	doc, err := h.Svc.Repo.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond.OK(c, reconcileResponse{
		DocumentID:   documentID,
		State:        doc.State.Display(),
		Strategy:     result.Strategy,
		Result:       result.Diffs,
		ScoreOverall: result.Score,
	})
}

type finalizeRequest struct {
	Decision string `json:"decision"`
	Decider  string `json:"decider"`
	Notes    string `json:"notes"`
}

func (h *Handler) finalize(c *gin.Context) {
	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", nil)
		return
	}
	req.Decision = strings.ToUpper(strings.TrimSpace(req.Decision))
	if req.Decision != DecisionApproved && req.Decision != DecisionRejected {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "decision must be APPROVED or REJECTED", nil)
		return
	}
	dec, err := h.Svc.Finalize(c.Request.Context(), c.Param("documentId"), req.Decision, req.Decider, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	respond.OK(c, gin.H{
		"document_id": dec.DocumentID,
		"state":       dec.Decision,
		"decision":    dec.Decision,
	})
}

func (h *Handler) report(c *gin.Context) {
	report, err := h.Svc.Report(c.Request.Context(), c.Param("documentId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond.OK(c, report)
}

// respondError maps service errors onto the stable HTTP error surface.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, err.Error(), nil)
	case errors.Is(err, ErrAlreadyFinalized):
		respond.Error(c, http.StatusConflict, ErrorCodeAlreadyFinalized, err.Error(), nil)
	case errors.Is(err, ErrInvalidState):
		respond.Error(c, http.StatusConflict, ErrorCodeInvalidState, err.Error(), nil)
	case errors.Is(err, ErrMissingInput):
		respond.Error(c, http.StatusUnprocessableEntity, ErrorCodeMissingInput, err.Error(), nil)
	case errors.Is(err, ErrCollaborator):
		respond.Error(c, http.StatusBadGateway, ErrorCodeCollaborator, err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "unexpected error", nil)
	}
}
