package port

import (
	"context"
	"time"

	"github.com/apexfin/invoiceflow/internal/domain/entity"
)

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	Status string
	Limit  int
	Offset int
}

// InvoiceRepository defines persistence operations for Invoice.
// Status-changing writes are guarded: the UPDATE carries the expected current
// status and reports how many rows it touched, so two concurrent transitions
// cannot both succeed.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error

	// GetByID returns the invoice with its line items joined, or nil if the
	// id is unknown or the invoice is soft-deleted.
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)

	// GetByNumberAndVendor looks up a non-deleted invoice by its number and
	// vendor, for duplicate detection. Returns nil when none exists.
	GetByNumberAndVendor(ctx context.Context, number string, vendorID int64) (*entity.Invoice, error)

	List(ctx context.Context, filter InvoiceFilter) ([]*entity.Invoice, error)

	// TransitionStatus updates status only if the row still carries
	// fromStatus, optionally setting approved_by and rejection_reason in the
	// same statement. Returns the number of rows affected (0 or 1).
	TransitionStatus(ctx context.Context, id, fromStatus, toStatus string, approvedBy *int64, rejectionReason *string) (int64, error)

	// UpdateFields applies header edits only while the row is still in an
	// editable status. Returns the number of rows affected (0 or 1).
	UpdateFields(ctx context.Context, id string, upd *entity.InvoiceUpdate) (int64, error)

	// SetAssignee sets assigned_to only while the row is in a non-terminal
	// status. Returns the number of rows affected (0 or 1).
	SetAssignee(ctx context.Context, id string, userID int64) (int64, error)
}

// LineItemRepository defines persistence operations for LineItem.
type LineItemRepository interface {
	// CreateBatch inserts all items for one invoice, preserving the given
	// order as line_number 1..n.
	CreateBatch(ctx context.Context, invoiceID string, items []*entity.LineItem) error

	// GetByInvoiceID returns items ordered by line_number ascending.
	GetByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.LineItem, error)
}

// VendorRepository defines persistence operations for Vendor.
type VendorRepository interface {
	Create(ctx context.Context, vendor *entity.Vendor) error
	GetByID(ctx context.Context, id int64) (*entity.Vendor, error)
	GetByName(ctx context.Context, name string) (*entity.Vendor, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Vendor, error)
	Update(ctx context.Context, vendor *entity.Vendor) error

	// Delete removes the vendor; dependent invoices keep existing with a
	// nulled vendor reference (enforced by the schema's ON DELETE SET NULL).
	Delete(ctx context.Context, id int64) error
}

// UserRepository defines persistence operations for User.
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	List(ctx context.Context, limit, offset int) ([]*entity.User, error)
}

// WorkflowRun is one durable workflow invocation.
type WorkflowRun struct {
	RunID     string
	Name      string
	Status    string // running, completed, failed
	Output    []byte // JSON-encoded workflow output, set on completion
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Workflow run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// WorkflowRunRepository persists workflow progress so a crash mid-sequence
// resumes instead of re-executing completed side effects.
type WorkflowRunRepository interface {
	// GetRun returns the run or nil if the id is unknown.
	GetRun(ctx context.Context, runID string) (*WorkflowRun, error)

	// CreateRun inserts a run in status running. Inserting an existing id is
	// not an error: the caller resumes it instead.
	CreateRun(ctx context.Context, runID, name string) error

	CompleteRun(ctx context.Context, runID string, output []byte) error
	FailRun(ctx context.Context, runID string, lastError string) error

	// GetCheckpoint returns the stored result for (runID, stepName), or nil
	// if the step has not completed yet.
	GetCheckpoint(ctx context.Context, runID, stepName string) ([]byte, error)

	// SaveCheckpoint records a completed step's JSON-encoded result. When
	// called inside a transaction it commits atomically with the step's own
	// writes.
	SaveCheckpoint(ctx context.Context, runID, stepName string, result []byte) error
}

// TransactionManager handles database transactions.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
