package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/durable"
	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/apperr"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/domain/validation"
)

// MaxUploadSize is the hard cap on uploaded documents: 10 MiB.
const MaxUploadSize = 10 << 20

var allowedMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// Upload is one submitted document.
type Upload struct {
	Filename string
	MIMEType string
	Size     int64
	Content  []byte
}

// IntakeService runs the durable invoice-processing workflow: validate the
// file, persist it, extract structured fields, decide the initial status and
// persist the invoice with its line items atomically.
type IntakeService struct {
	runner         *durable.Runner
	files          port.FileStore
	extractor      port.DocumentExtractor
	invoices       port.InvoiceRepository
	lineItems      port.LineItemRepository
	vendors        port.VendorRepository
	thresholds     validation.Thresholds
	extractTimeout time.Duration
	logger         *zap.Logger
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(
	runner *durable.Runner,
	files port.FileStore,
	extractor port.DocumentExtractor,
	invoices port.InvoiceRepository,
	lineItems port.LineItemRepository,
	vendors port.VendorRepository,
	thresholds validation.Thresholds,
	extractTimeout time.Duration,
	logger *zap.Logger,
) *IntakeService {
	if extractTimeout <= 0 {
		extractTimeout = 60 * time.Second
	}
	return &IntakeService{
		runner:         runner,
		files:          files,
		extractor:      extractor,
		invoices:       invoices,
		lineItems:      lineItems,
		vendors:        vendors,
		thresholds:     thresholds,
		extractTimeout: extractTimeout,
		logger:         logger,
	}
}

// ValidateUpload rejects unsupported or oversized files. It runs before the
// workflow starts, so a rejected upload has no side effects at all.
func ValidateUpload(up Upload) error {
	if len(up.Content) == 0 {
		return apperr.New(apperr.ErrValidation, "empty upload")
	}
	if int64(len(up.Content)) > MaxUploadSize {
		return apperr.New(apperr.ErrFileTooLarge, "file is %d bytes, limit is %d", len(up.Content), MaxUploadSize)
	}

	sniffed := mimetype.Detect(up.Content)
	if !allowedMIMETypes[sniffed.String()] {
		return apperr.New(apperr.ErrInvalidFileFormat, "unsupported file type %s", sniffed.String())
	}
	if up.MIMEType != "" && !sniffed.Is(up.MIMEType) {
		return apperr.New(apperr.ErrInvalidFileFormat, "declared type %s does not match content type %s", up.MIMEType, sniffed.String())
	}
	return nil
}

// WorkflowID derives the deterministic run id for an upload from its content,
// so re-submitting the same file resumes or replays the same run.
func WorkflowID(content []byte) string {
	sum := sha256.Sum256(content)
	return "invoice-" + hex.EncodeToString(sum[:16])
}

// SubmitInvoice validates the upload and drives it through the workflow,
// returning the fully persisted invoice. Idempotent per workflow id.
func (s *IntakeService) SubmitInvoice(ctx context.Context, up Upload) (*entity.Invoice, error) {
	if err := ValidateUpload(up); err != nil {
		return nil, err
	}

	runID := WorkflowID(up.Content)
	s.logger.Info("starting invoice intake workflow",
		zap.String("run_id", runID),
		zap.String("filename", up.Filename),
		zap.Int("size", len(up.Content)))

	return durable.Run(ctx, s.runner, runID, "invoice-intake",
		func(ctx context.Context, fl *durable.Flow) (*entity.Invoice, error) {
			return s.process(ctx, fl, up)
		})
}

func (s *IntakeService) process(ctx context.Context, fl *durable.Flow, up Upload) (*entity.Invoice, error) {
	// File I/O happens in a step so a retried run reuses the stored path
	// instead of writing a second copy.
	filePath, err := durable.Step(ctx, fl, "save-file", func(ctx context.Context) (string, error) {
		return s.files.Save(ctx, up.Filename, up.Content)
	})
	if err != nil {
		return nil, err
	}

	result, err := durable.Step(ctx, fl, "extract", func(ctx context.Context) (*entity.ExtractionResult, error) {
		ctx, cancel := context.WithTimeout(ctx, s.extractTimeout)
		defer cancel()
		res, extractErr := s.extractor.Extract(ctx, up.Content, up.MIMEType)
		if extractErr != nil {
			// Only the adapter's own failure is an extraction failure; a
			// checkpoint persistence fault after a successful extract must
			// not be reported as one.
			return nil, apperr.Wrap(apperr.ErrExtractionFailed, "extract", extractErr)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	// Pure decision, no I/O: no checkpoint needed, replay recomputes it
	// identically.
	status := validation.DecideStatus(result.Document, result.Confidence, s.thresholds)

	invoiceID, err := durable.Transaction(ctx, fl, "create-invoice", func(txCtx context.Context) (string, error) {
		return s.createInvoice(txCtx, result, status.String(), filePath)
	})
	if err != nil {
		return nil, err
	}

	_, err = durable.Transaction(ctx, fl, "create-line-items", func(txCtx context.Context) (struct{}, error) {
		items := make([]*entity.LineItem, 0, len(result.Document.LineItems))
		for i, line := range result.Document.LineItems {
			items = append(items, &entity.LineItem{
				InvoiceID:   invoiceID,
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				LineTotal:   line.LineTotal,
				ProductCode: line.ProductCode,
				LineNumber:  i + 1,
			})
		}
		return struct{}{}, s.lineItems.CreateBatch(txCtx, invoiceID, items)
	})
	if err != nil {
		return nil, err
	}

	return durable.Transaction(ctx, fl, "read-back", func(txCtx context.Context) (*entity.Invoice, error) {
		inv, err := s.invoices.GetByID(txCtx, invoiceID)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			return nil, apperr.New(apperr.ErrNotFound, "invoice %s missing after create", invoiceID)
		}
		return inv, nil
	})
}

// createInvoice resolves the vendor, guards against duplicate resubmission
// and inserts the invoice row, all inside the enclosing transaction.
func (s *IntakeService) createInvoice(txCtx context.Context, result *entity.ExtractionResult, status, filePath string) (string, error) {
	doc := result.Document

	var vendorID *int64
	if doc.VendorName != "" {
		id, err := s.resolveVendor(txCtx, doc.VendorName)
		if err != nil {
			return "", err
		}
		vendorID = &id
	}

	if vendorID != nil && doc.InvoiceNumber != "" {
		existing, err := s.invoices.GetByNumberAndVendor(txCtx, doc.InvoiceNumber, *vendorID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return "", apperr.New(apperr.ErrDuplicateInvoice,
				"invoice %s from vendor %s already exists as %s", doc.InvoiceNumber, doc.VendorName, existing.ID)
		}
	}

	confidence := result.Confidence
	inv := &entity.Invoice{
		ID:            uuid.NewString(),
		VendorID:      vendorID,
		InvoiceNumber: doc.InvoiceNumber,
		InvoiceDate:   parseDate(doc.InvoiceDate),
		DueDate:       parseDate(doc.DueDate),
		Subtotal:      doc.Subtotal,
		TaxAmount:     doc.TaxAmount,
		TotalAmount:   doc.TotalAmount,
		Currency:      doc.Currency,
		Status:        status,
		FilePath:      filePath,
		Confidence:    &confidence,
	}

	if err := s.invoices.Create(txCtx, inv); err != nil {
		return "", fmt.Errorf("create invoice: %w", err)
	}

	s.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID),
		zap.String("status", status),
		zap.Float64("overall_confidence", confidence.OverallConfidence))

	return inv.ID, nil
}

func (s *IntakeService) resolveVendor(txCtx context.Context, name string) (int64, error) {
	vendor, err := s.vendors.GetByName(txCtx, name)
	if err != nil {
		return 0, fmt.Errorf("lookup vendor: %w", err)
	}
	if vendor != nil {
		return vendor.ID, nil
	}

	vendor = &entity.Vendor{Name: name}
	if err := s.vendors.Create(txCtx, vendor); err != nil {
		return 0, fmt.Errorf("create vendor: %w", err)
	}
	return vendor.ID, nil
}

// parseDate accepts the adapter's ISO date strings; anything else is treated
// as absent rather than failing the workflow.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
