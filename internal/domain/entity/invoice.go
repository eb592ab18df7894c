package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the central record of the approval workflow. Monetary amounts use
// decimal arithmetic; reconciliation never compares floats.
type Invoice struct {
	ID              string            `json:"id"`
	VendorID        *int64            `json:"vendor_id"`
	InvoiceNumber   string            `json:"invoice_number"`
	InvoiceDate     *time.Time        `json:"invoice_date"`
	DueDate         *time.Time        `json:"due_date"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	TaxAmount       decimal.Decimal   `json:"tax_amount"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	Currency        string            `json:"currency"`
	Status          string            `json:"status"`
	AssignedTo      *int64            `json:"assigned_to"`
	ApprovedBy      *int64            `json:"approved_by"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	FilePath        string            `json:"file_path"`
	Confidence      *ConfidenceReport `json:"confidence"`
	LineItems       []*LineItem       `json:"line_items,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// LineItem is owned by exactly one invoice and cascade-deleted with it.
// LineNumber is 1-based and unique within the invoice; it is the ordering key.
type LineItem struct {
	ID          int64           `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	ProductCode string          `json:"product_code,omitempty"`
	LineNumber  int             `json:"line_number"`
}

// InvoiceUpdate carries the editable header fields for an update while the
// invoice is still in an editable status. Nil means leave unchanged.
type InvoiceUpdate struct {
	VendorID      *int64           `json:"vendor_id"`
	InvoiceNumber *string          `json:"invoice_number"`
	InvoiceDate   *time.Time       `json:"invoice_date"`
	DueDate       *time.Time       `json:"due_date"`
	Subtotal      *decimal.Decimal `json:"subtotal"`
	TaxAmount     *decimal.Decimal `json:"tax_amount"`
	TotalAmount   *decimal.Decimal `json:"total_amount"`
	Currency      *string          `json:"currency"`
}
