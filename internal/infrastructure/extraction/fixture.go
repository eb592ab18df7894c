package extraction

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
)

// FixtureExtractor is a deterministic port.DocumentExtractor for tests and
// local development: it ignores the file content and returns a fixed,
// internally consistent invoice.
type FixtureExtractor struct {
	// Overall overrides the fixture's overall confidence when non-zero.
	Overall float64
}

// Extract returns the fixed extraction result.
func (f *FixtureExtractor) Extract(ctx context.Context, content []byte, mimeType string) (*entity.ExtractionResult, error) {
	overall := f.Overall
	if overall == 0 {
		overall = 0.97
	}

	doc := entity.ExtractedDocument{
		VendorName:    "Acme Office Supply",
		InvoiceNumber: "INV-1042",
		InvoiceDate:   "2025-06-01",
		DueDate:       "2025-07-01",
		Subtotal:      decimal.NewFromFloat(150.00),
		TaxAmount:     decimal.NewFromFloat(12.00),
		TotalAmount:   decimal.NewFromFloat(162.00),
		Currency:      "USD",
		LineItems: []entity.ExtractedLine{
			{
				Description: "A4 paper, 5 reams",
				Quantity:    decimal.NewFromInt(5),
				UnitPrice:   decimal.NewFromFloat(10.00),
				LineTotal:   decimal.NewFromFloat(50.00),
				ProductCode: "PPR-A4",
			},
			{
				Description: "Toner cartridge",
				Quantity:    decimal.NewFromInt(2),
				UnitPrice:   decimal.NewFromFloat(50.00),
				LineTotal:   decimal.NewFromFloat(100.00),
				ProductCode: "TNR-22",
			},
		},
	}

	confidence := entity.ConfidenceReport{
		Fields: map[string]entity.FieldConfidence{
			"vendor_name":    {Value: doc.VendorName, Confidence: 0.99},
			"invoice_number": {Value: doc.InvoiceNumber, Confidence: 0.98},
			"total_amount":   {Value: "162.00", Confidence: 0.97},
		},
		OverallConfidence: overall,
	}

	return &entity.ExtractionResult{Document: doc, Confidence: confidence}, nil
}

var _ port.DocumentExtractor = (*FixtureExtractor)(nil)
