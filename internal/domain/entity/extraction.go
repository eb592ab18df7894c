package entity

import "github.com/shopspring/decimal"

// ExtractedDocument holds the structured fields returned by the document
// extraction adapter for one uploaded file.
type ExtractedDocument struct {
	VendorName    string           `json:"vendor_name"`
	InvoiceNumber string           `json:"invoice_number"`
	InvoiceDate   string           `json:"invoice_date"`
	DueDate       string           `json:"due_date"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	TaxAmount     decimal.Decimal  `json:"tax_amount"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	Currency      string           `json:"currency"`
	LineItems     []ExtractedLine  `json:"line_items"`
}

// ExtractedLine is one line item in extraction order. Order is preserved as
// the persisted line_number, 1-based.
type ExtractedLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	ProductCode string          `json:"product_code,omitempty"`
}

// FieldConfidence pairs an extracted value with the adapter's confidence in it.
type FieldConfidence struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ConfidenceReport carries per-field confidences plus one overall score in
// [0,1]. It is produced once by the extract step and persisted as a single
// structured value; the persistence layer serializes it exactly once on write
// and deserializes it exactly once on read.
type ConfidenceReport struct {
	Fields            map[string]FieldConfidence `json:"fields"`
	OverallConfidence float64                    `json:"overall_confidence"`
}

// ExtractionResult is the full adapter output: document plus confidence.
type ExtractionResult struct {
	Document   ExtractedDocument `json:"document"`
	Confidence ConfidenceReport  `json:"confidence"`
}
