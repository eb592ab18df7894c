package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/infrastructure/persistence/sqlite"
)

// VendorRepository handles vendor database operations.
type VendorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVendorRepository creates a new vendor repository
func NewVendorRepository(db *sql.DB, logger *zap.Logger) *VendorRepository {
	return &VendorRepository{db: db, logger: logger}
}

// Create inserts a vendor and sets its generated id.
func (r *VendorRepository) Create(ctx context.Context, vendor *entity.Vendor) error {
	now := time.Now().UTC()
	vendor.CreatedAt = now
	vendor.UpdatedAt = now

	query := `
		INSERT INTO vendors (name, address, tax_id, payment_terms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		vendor.Name, vendor.Address, vendor.TaxID, vendor.PaymentTerms,
		vendor.CreatedAt, vendor.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create vendor", zap.String("name", vendor.Name), zap.Error(err))
		return fmt.Errorf("failed to create vendor: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	vendor.ID = id
	return nil
}

// GetByID returns the vendor or nil when unknown.
func (r *VendorRepository) GetByID(ctx context.Context, id int64) (*entity.Vendor, error) {
	query := `SELECT id, name, address, tax_id, payment_terms, created_at, updated_at FROM vendors WHERE id = ?`
	return r.scanOne(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetByName returns the vendor with the given name or nil when unknown.
func (r *VendorRepository) GetByName(ctx context.Context, name string) (*entity.Vendor, error) {
	query := `SELECT id, name, address, tax_id, payment_terms, created_at, updated_at FROM vendors WHERE name = ?`
	return r.scanOne(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, name))
}

// List returns vendors ordered by name.
func (r *VendorRepository) List(ctx context.Context, limit, offset int) ([]*entity.Vendor, error) {
	query := `SELECT id, name, address, tax_id, payment_terms, created_at, updated_at FROM vendors ORDER BY name`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	defer rows.Close()

	var vendors []*entity.Vendor
	for rows.Next() {
		var v entity.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Address, &v.TaxID, &v.PaymentTerms, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		vendors = append(vendors, &v)
	}
	return vendors, rows.Err()
}

// Update replaces the vendor's mutable attributes.
func (r *VendorRepository) Update(ctx context.Context, vendor *entity.Vendor) error {
	vendor.UpdatedAt = time.Now().UTC()
	query := `UPDATE vendors SET name = ?, address = ?, tax_id = ?, payment_terms = ?, updated_at = ? WHERE id = ?`
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		vendor.Name, vendor.Address, vendor.TaxID, vendor.PaymentTerms, vendor.UpdatedAt, vendor.ID)
	if err != nil {
		return fmt.Errorf("failed to update vendor: %w", err)
	}
	return nil
}

// Delete removes the vendor. The schema's ON DELETE SET NULL nulls the
// reference on dependent invoices.
func (r *VendorRepository) Delete(ctx context.Context, id int64) error {
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, `DELETE FROM vendors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete vendor: %w", err)
	}
	return nil
}

func (r *VendorRepository) scanOne(row *sql.Row) (*entity.Vendor, error) {
	var v entity.Vendor
	err := row.Scan(&v.ID, &v.Name, &v.Address, &v.TaxID, &v.PaymentTerms, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return &v, nil
}

var _ port.VendorRepository = (*VendorRepository)(nil)
