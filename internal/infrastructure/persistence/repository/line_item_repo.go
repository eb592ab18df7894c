package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/infrastructure/persistence/sqlite"
)

// LineItemRepository handles line item database operations.
type LineItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLineItemRepository creates a new line item repository
func NewLineItemRepository(db *sql.DB, logger *zap.Logger) *LineItemRepository {
	return &LineItemRepository{db: db, logger: logger}
}

// CreateBatch inserts all items for one invoice. The caller provides items in
// extraction order; their LineNumber fields must already be 1..n.
func (r *LineItemRepository) CreateBatch(ctx context.Context, invoiceID string, items []*entity.LineItem) error {
	if len(items) == 0 {
		return nil
	}

	query := `
		INSERT INTO line_items (
			invoice_id, description, quantity, unit_price, line_total,
			product_code, line_number
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	exec := sqlite.ExecutorFrom(ctx, r.db)
	for _, item := range items {
		result, err := exec.ExecContext(ctx, query,
			invoiceID,
			item.Description,
			item.Quantity.String(),
			item.UnitPrice.String(),
			item.LineTotal.String(),
			item.ProductCode,
			item.LineNumber,
		)
		if err != nil {
			r.logger.Error("failed to create line item",
				zap.String("invoice_id", invoiceID),
				zap.Int("line_number", item.LineNumber),
				zap.Error(err))
			return fmt.Errorf("failed to create line item %d: %w", item.LineNumber, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		item.ID = id
		item.InvoiceID = invoiceID
	}
	return nil
}

// GetByInvoiceID returns items ordered by line_number ascending.
func (r *LineItemRepository) GetByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.LineItem, error) {
	query := `
		SELECT id, invoice_id, description, quantity, unit_price, line_total,
			product_code, line_number
		FROM line_items
		WHERE invoice_id = ?
		ORDER BY line_number ASC
	`
	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("failed to get line items", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}
	defer rows.Close()

	var items []*entity.LineItem
	for rows.Next() {
		var (
			item      entity.LineItem
			quantity  string
			unitPrice string
			lineTotal string
		)
		err := rows.Scan(
			&item.ID,
			&item.InvoiceID,
			&item.Description,
			&quantity,
			&unitPrice,
			&lineTotal,
			&item.ProductCode,
			&item.LineNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}

		if item.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("decode quantity: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("decode unit price: %w", err)
		}
		if item.LineTotal, err = decimal.NewFromString(lineTotal); err != nil {
			return nil, fmt.Errorf("decode line total: %w", err)
		}

		items = append(items, &item)
	}
	return items, rows.Err()
}

var _ port.LineItemRepository = (*LineItemRepository)(nil)
