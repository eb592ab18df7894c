package entity

import "time"

// Vendor is referenced by zero or more invoices. Deleting a vendor nulls the
// reference on dependent invoices rather than cascading.
type Vendor struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address,omitempty"`
	TaxID        string    `json:"tax_id,omitempty"`
	PaymentTerms string    `json:"payment_terms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
