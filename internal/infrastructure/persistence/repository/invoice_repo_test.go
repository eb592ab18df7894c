package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
)

func newMockInvoiceRepo(t *testing.T) (*InvoiceRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	items := NewLineItemRepository(db, zap.NewNop())
	return NewInvoiceRepository(db, items, zap.NewNop()), mock, db
}

func invoiceRowColumns() []string {
	return []string{
		"id", "vendor_id", "invoice_number", "invoice_date", "due_date",
		"subtotal", "tax_amount", "total_amount", "currency", "status",
		"assigned_to", "approved_by", "rejection_reason", "file_path",
		"confidence", "created_at", "updated_at",
	}
}

func sampleInvoiceRow(id, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(invoiceRowColumns()).AddRow(
		id, int64(7), "INV-1042", nil, nil,
		"150.00", "12.00", "162.00", "USD", status,
		nil, nil, "", "uploads/a.pdf",
		`{"fields":{},"overall_confidence":0.97}`, now, now,
	)
}

func TestInvoiceRepository_Create(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	vendorID := int64(7)
	inv := &entity.Invoice{
		ID:            "inv-1",
		VendorID:      &vendorID,
		InvoiceNumber: "INV-1042",
		Subtotal:      decimal.RequireFromString("150.00"),
		TaxAmount:     decimal.RequireFromString("12.00"),
		TotalAmount:   decimal.RequireFromString("162.00"),
		Currency:      "USD",
		Status:        "awaiting_approval",
		FilePath:      "uploads/a.pdf",
		Confidence:    &entity.ConfidenceReport{OverallConfidence: 0.97},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO invoices")).
		WithArgs(
			"inv-1", sqlmock.AnyArg(), "INV-1042", sqlmock.AnyArg(), sqlmock.AnyArg(),
			// decimal String() trims trailing zeros; the stored form is the
			// exact value, not the display form.
			"150", "12", "162", "USD", "awaiting_approval",
			sqlmock.AnyArg(), sqlmock.AnyArg(), "", "uploads/a.pdf",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), inv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_GetByID_DecodesStoredForm(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\? AND status != \\?").
		WithArgs("inv-1", "deleted").
		WillReturnRows(sampleInvoiceRow("inv-1", "awaiting_approval"))
	mock.ExpectQuery("SELECT (.+) FROM line_items").
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "invoice_id", "description", "quantity", "unit_price",
			"line_total", "product_code", "line_number",
		}).
			AddRow(int64(1), "inv-1", "Paper", "10", "5.00", "50.00", "", 1).
			AddRow(int64(2), "inv-1", "Toner", "2", "50.00", "100.00", "", 2))

	inv, err := repo.GetByID(context.Background(), "inv-1")
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.True(t, inv.Subtotal.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("162.00")))
	require.NotNil(t, inv.Confidence)
	assert.Equal(t, 0.97, inv.Confidence.OverallConfidence)
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, 1, inv.LineItems[0].LineNumber)
	assert.Equal(t, "Paper", inv.LineItems[0].Description)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_GetByID_UnknownReturnsNil(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM invoices WHERE id = \\? AND status != \\?").
		WithArgs("missing", "deleted").
		WillReturnRows(sqlmock.NewRows(invoiceRowColumns()))

	inv, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, inv)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_TransitionStatus_GuardedByCurrentStatus(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	approver := int64(42)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET status = ?, updated_at = ?, approved_by = ? WHERE id = ? AND status = ?")).
		WithArgs("approved", sqlmock.AnyArg(), approver, "inv-1", "awaiting_approval").
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.TransitionStatus(context.Background(), "inv-1", "awaiting_approval", "approved", &approver, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_TransitionStatus_ZeroRowsWhenRaced(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET status = ?, updated_at = ? WHERE id = ? AND status = ?")).
		WithArgs("approved", sqlmock.AnyArg(), "inv-1", "awaiting_approval").
		WillReturnResult(sqlmock.NewResult(0, 0))

	affected, err := repo.TransitionStatus(context.Background(), "inv-1", "awaiting_approval", "approved", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected, "a raced transition must report zero rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_TransitionStatus_RejectionReasonInSameStatement(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	reason := "amount disputed"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET status = ?, updated_at = ?, rejection_reason = ? WHERE id = ? AND status = ?")).
		WithArgs("rejected", sqlmock.AnyArg(), reason, "inv-1", "awaiting_approval").
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.TransitionStatus(context.Background(), "inv-1", "awaiting_approval", "rejected", nil, &reason)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_List_ExcludesDeletedNewestFirst(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE status != ? ORDER BY created_at DESC LIMIT ? OFFSET ?")).
		WithArgs("deleted", 10, 0).
		WillReturnRows(sampleInvoiceRow("inv-1", "approved"))

	invoices, err := repo.List(context.Background(), port.InvoiceFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "inv-1", invoices[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_List_StatusFilter(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE status != ? AND status = ? ORDER BY created_at DESC")).
		WithArgs("deleted", "needs_review").
		WillReturnRows(sqlmock.NewRows(invoiceRowColumns()))

	invoices, err := repo.List(context.Background(), port.InvoiceFilter{Status: "needs_review"})
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_UpdateFields_OnlyEditableStatuses(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	number := "INV-2000"
	subtotal := decimal.RequireFromString("99.50")
	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET updated_at = ?, invoice_number = ?, subtotal = ? WHERE id = ? AND status IN (?, ?)")).
		WithArgs(sqlmock.AnyArg(), number, "99.5", "inv-1", "processing", "needs_review").
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.UpdateFields(context.Background(), "inv-1", &entity.InvoiceUpdate{
		InvoiceNumber: &number,
		Subtotal:      &subtotal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepository_SetAssignee_NonTerminalOnly(t *testing.T) {
	repo, mock, _ := newMockInvoiceRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET assigned_to = ?, updated_at = ? WHERE id = ? AND status IN (?, ?, ?)")).
		WithArgs(int64(9), sqlmock.AnyArg(), "inv-1", "processing", "needs_review", "awaiting_approval").
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.SetAssignee(context.Background(), "inv-1", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
