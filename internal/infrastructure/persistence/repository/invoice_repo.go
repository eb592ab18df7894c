package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/domain/workflow"
	"github.com/apexfin/invoiceflow/internal/infrastructure/persistence/sqlite"
)

const invoiceColumns = `id, vendor_id, invoice_number, invoice_date, due_date,
		subtotal, tax_amount, total_amount, currency, status, assigned_to,
		approved_by, rejection_reason, file_path, confidence, created_at, updated_at`

// InvoiceRepository handles invoice database operations. Monetary amounts are
// stored as decimal strings and the confidence report as one JSON column,
// serialized on write and deserialized on read exactly once, here.
type InvoiceRepository struct {
	db     *sql.DB
	items  *LineItemRepository
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, items *LineItemRepository, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{db: db, items: items, logger: logger}
}

// Create inserts a new invoice row.
func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	var confidence sql.NullString
	if invoice.Confidence != nil {
		encoded, err := json.Marshal(invoice.Confidence)
		if err != nil {
			return fmt.Errorf("encode confidence: %w", err)
		}
		confidence = sql.NullString{String: string(encoded), Valid: true}
	}

	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	query := `
		INSERT INTO invoices (
			id, vendor_id, invoice_number, invoice_date, due_date,
			subtotal, tax_amount, total_amount, currency, status,
			assigned_to, approved_by, rejection_reason, file_path, confidence,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		invoice.ID,
		nullInt64(invoice.VendorID),
		invoice.InvoiceNumber,
		nullTime(invoice.InvoiceDate),
		nullTime(invoice.DueDate),
		invoice.Subtotal.String(),
		invoice.TaxAmount.String(),
		invoice.TotalAmount.String(),
		invoice.Currency,
		invoice.Status,
		nullInt64(invoice.AssignedTo),
		nullInt64(invoice.ApprovedBy),
		invoice.RejectionReason,
		invoice.FilePath,
		confidence,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create invoice", zap.String("invoice_id", invoice.ID), zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice with its line items. Soft-deleted rows are not
// visible. Returns nil when the id is unknown.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = ? AND status != ?`

	row := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id, workflow.StateDeleted.String())
	invoice, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get invoice", zap.String("invoice_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	items, err := r.items.GetByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	invoice.LineItems = items
	return invoice, nil
}

// GetByNumberAndVendor looks up a non-deleted invoice by number and vendor.
func (r *InvoiceRepository) GetByNumberAndVendor(ctx context.Context, number string, vendorID int64) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices WHERE invoice_number = ? AND vendor_id = ? AND status != ? LIMIT 1`

	row := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, number, vendorID, workflow.StateDeleted.String())
	invoice, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice by number: %w", err)
	}
	return invoice, nil
}

// List returns non-deleted invoices, newest first.
func (r *InvoiceRepository) List(ctx context.Context, filter port.InvoiceFilter) ([]*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE status != ?`
	args := []interface{}{workflow.StateDeleted.String()}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*entity.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

// TransitionStatus updates status only if the row still carries fromStatus.
// approved_by and rejection_reason are set in the same statement when given,
// so the transition and its side fields commit as one write.
func (r *InvoiceRepository) TransitionStatus(ctx context.Context, id, fromStatus, toStatus string, approvedBy *int64, rejectionReason *string) (int64, error) {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{toStatus, time.Now().UTC()}

	if approvedBy != nil {
		sets = append(sets, "approved_by = ?")
		args = append(args, *approvedBy)
	}
	if rejectionReason != nil {
		sets = append(sets, "rejection_reason = ?")
		args = append(args, *rejectionReason)
	}
	args = append(args, id, fromStatus)

	query := `UPDATE invoices SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to transition invoice status",
			zap.String("invoice_id", id),
			zap.String("from", fromStatus),
			zap.String("to", toStatus),
			zap.Error(err))
		return 0, fmt.Errorf("failed to transition status: %w", err)
	}
	return result.RowsAffected()
}

// UpdateFields applies header edits while the row is still editable.
func (r *InvoiceRepository) UpdateFields(ctx context.Context, id string, upd *entity.InvoiceUpdate) (int64, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if upd.VendorID != nil {
		sets = append(sets, "vendor_id = ?")
		args = append(args, *upd.VendorID)
	}
	if upd.InvoiceNumber != nil {
		sets = append(sets, "invoice_number = ?")
		args = append(args, *upd.InvoiceNumber)
	}
	if upd.InvoiceDate != nil {
		sets = append(sets, "invoice_date = ?")
		args = append(args, *upd.InvoiceDate)
	}
	if upd.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, *upd.DueDate)
	}
	if upd.Subtotal != nil {
		sets = append(sets, "subtotal = ?")
		args = append(args, upd.Subtotal.String())
	}
	if upd.TaxAmount != nil {
		sets = append(sets, "tax_amount = ?")
		args = append(args, upd.TaxAmount.String())
	}
	if upd.TotalAmount != nil {
		sets = append(sets, "total_amount = ?")
		args = append(args, upd.TotalAmount.String())
	}
	if upd.Currency != nil {
		sets = append(sets, "currency = ?")
		args = append(args, *upd.Currency)
	}

	args = append(args, id, workflow.StateProcessing.String(), workflow.StateNeedsReview.String())
	query := `UPDATE invoices SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status IN (?, ?)`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update invoice fields: %w", err)
	}
	return result.RowsAffected()
}

// SetAssignee sets assigned_to while the row is in a non-terminal status.
func (r *InvoiceRepository) SetAssignee(ctx context.Context, id string, userID int64) (int64, error) {
	query := `UPDATE invoices SET assigned_to = ?, updated_at = ? WHERE id = ? AND status IN (?, ?, ?)`
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		userID,
		time.Now().UTC(),
		id,
		workflow.StateProcessing.String(),
		workflow.StateNeedsReview.String(),
		workflow.StateAwaitingApproval.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to set assignee: %w", err)
	}
	return result.RowsAffected()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row scanner) (*entity.Invoice, error) {
	var (
		invoice         entity.Invoice
		vendorID        sql.NullInt64
		invoiceDate     sql.NullTime
		dueDate         sql.NullTime
		subtotal        string
		taxAmount       string
		totalAmount     string
		assignedTo      sql.NullInt64
		approvedBy      sql.NullInt64
		rejectionReason sql.NullString
		confidence      sql.NullString
	)

	err := row.Scan(
		&invoice.ID,
		&vendorID,
		&invoice.InvoiceNumber,
		&invoiceDate,
		&dueDate,
		&subtotal,
		&taxAmount,
		&totalAmount,
		&invoice.Currency,
		&invoice.Status,
		&assignedTo,
		&approvedBy,
		&rejectionReason,
		&invoice.FilePath,
		&confidence,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if invoice.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("decode subtotal: %w", err)
	}
	if invoice.TaxAmount, err = decimal.NewFromString(taxAmount); err != nil {
		return nil, fmt.Errorf("decode tax amount: %w", err)
	}
	if invoice.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
		return nil, fmt.Errorf("decode total amount: %w", err)
	}

	if vendorID.Valid {
		invoice.VendorID = &vendorID.Int64
	}
	if invoiceDate.Valid {
		invoice.InvoiceDate = &invoiceDate.Time
	}
	if dueDate.Valid {
		invoice.DueDate = &dueDate.Time
	}
	if assignedTo.Valid {
		invoice.AssignedTo = &assignedTo.Int64
	}
	if approvedBy.Valid {
		invoice.ApprovedBy = &approvedBy.Int64
	}
	if rejectionReason.Valid {
		invoice.RejectionReason = rejectionReason.String
	}
	if confidence.Valid && confidence.String != "" {
		var report entity.ConfidenceReport
		if err := json.Unmarshal([]byte(confidence.String), &report); err != nil {
			return nil, fmt.Errorf("decode confidence: %w", err)
		}
		invoice.Confidence = &report
	}

	return &invoice, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
