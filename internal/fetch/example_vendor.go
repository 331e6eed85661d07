package fetch

import (
	"context"

	"docrecon-backend/internal/pipeline"
)

// TargetExampleVendor is the built-in demo target name.
const TargetExampleVendor = "example_vendor"

// ExampleVendor is a stand-in vendor API. It responds with the document's
// corrected values where present, falling back to canned records, which makes
// it useful for demos and pipeline tests without a live dependency.
type ExampleVendor struct{}

// Fetch returns the vendor's view of the document.
func (ExampleVendor) Fetch(ctx context.Context, doc pipeline.DocumentView) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"id":     corrected(doc, "id", "123"),
		"amount": corrected(doc, "amount", "100.00"),
		"date":   corrected(doc, "date", "2020-01-01"),
		"vendor": corrected(doc, "vendor", "ACME"),
	}
	return payload, nil
}

func corrected(doc pipeline.DocumentView, field string, fallback any) any {
	if v, ok := doc.Corrected[field]; ok && v != nil {
		return v
	}
	return fallback
}

// DefaultAdapters returns the built-in adapter set.
func DefaultAdapters() map[string]Adapter {
	return map[string]Adapter{
		TargetExampleVendor: ExampleVendor{},
	}
}
