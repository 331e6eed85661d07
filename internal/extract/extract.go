// Package extract implements the extractor collaborator: raw document bytes
// in, a field record out. Text recovery handles PDF (github.com/ledongthuc/pdf)
// and plain text; field extraction is a line heuristic that stands in for an
// OCR+LLM provider behind the same contract.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docrecon-backend/internal/pipeline"
)

const mimePDF = "application/pdf"

// Version and provider tags recorded on extractions.
const (
	Version  = "1.0"
	Provider = "heuristic"
)

// Heuristic extracts "key: value" lines from document text. It satisfies
// pipeline.Extractor.
type Heuristic struct{}

// Extract recovers text from the payload and parses fields from it. An empty
// result record falls back to stub invoice fields so a reviewer always has
// something to correct.
func (Heuristic) Extract(ctx context.Context, content []byte, mimeType, fileName string) (pipeline.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, err := Text(content, mimeType, fileName)
	if err != nil {
		return nil, err
	}
	return FieldsFromText(text), nil
}

// FieldsFromText parses "key: value" lines into a Record, falling back to
// stub fields when no line matches.
func FieldsFromText(text string) pipeline.Record {
	record := pipeline.Record{}
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		record[key] = pipeline.Field{Value: value, Confidence: confidence(0.9)}
	}
	if len(record) == 0 {
		record = pipeline.Record{
			"id":     {Value: "123", Confidence: confidence(0.8)},
			"amount": {Value: "100.00", Confidence: confidence(0.8), TypeHint: "amount"},
			"date":   {Value: "2020-01-02", Confidence: confidence(0.8), TypeHint: "date"},
			"vendor": {Value: "ACME", Confidence: confidence(0.8)},
		}
	}
	return record
}

// Text recovers plain text from the payload. PDFs go through the pdf reader;
// anything else valid as UTF-8 is returned as-is.
func Text(data []byte, mimeType, fileName string) (string, error) {
	if isPDF(mimeType, fileName) {
		return textFromPDF(data)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("unsupported payload: not valid text and mime type %q is not PDF", mimeType)
	}
	return string(data), nil
}

func isPDF(mimeType, fileName string) bool {
	clean := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if clean == mimePDF {
		return true
	}
	return strings.EqualFold(filepath.Ext(fileName), ".pdf")
}

func textFromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func confidence(v float64) *float64 {
	return &v
}
