package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/apperr"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
)

// VendorService manages the vendor registry.
type VendorService struct {
	vendors port.VendorRepository
	logger  *zap.Logger
}

// NewVendorService creates a VendorService.
func NewVendorService(vendors port.VendorRepository, logger *zap.Logger) *VendorService {
	return &VendorService{vendors: vendors, logger: logger}
}

// Create registers a vendor. Name is the primary lookup key and must be unique.
func (s *VendorService) Create(ctx context.Context, vendor *entity.Vendor) (*entity.Vendor, error) {
	if vendor.Name == "" {
		return nil, apperr.New(apperr.ErrValidation, "vendor name is required")
	}
	existing, err := s.vendors.GetByName(ctx, vendor.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.New(apperr.ErrValidation, "vendor %q already exists", vendor.Name)
	}
	if err := s.vendors.Create(ctx, vendor); err != nil {
		return nil, err
	}
	return vendor, nil
}

// Get returns one vendor.
func (s *VendorService) Get(ctx context.Context, id int64) (*entity.Vendor, error) {
	vendor, err := s.vendors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, apperr.New(apperr.ErrNotFound, "vendor %d", id)
	}
	return vendor, nil
}

// List returns a page of vendors.
func (s *VendorService) List(ctx context.Context, limit, offset int) ([]*entity.Vendor, error) {
	return s.vendors.List(ctx, limit, offset)
}

// Update replaces the vendor's mutable attributes.
func (s *VendorService) Update(ctx context.Context, vendor *entity.Vendor) (*entity.Vendor, error) {
	if vendor.Name == "" {
		return nil, apperr.New(apperr.ErrValidation, "vendor name is required")
	}
	if _, err := s.Get(ctx, vendor.ID); err != nil {
		return nil, err
	}
	if err := s.vendors.Update(ctx, vendor); err != nil {
		return nil, err
	}
	return vendor, nil
}

// Delete removes a vendor. Invoices that referenced it keep existing with a
// nulled vendor reference.
func (s *VendorService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	s.logger.Info("deleting vendor", zap.Int64("vendor_id", id))
	return s.vendors.Delete(ctx, id)
}
