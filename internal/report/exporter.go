// Package report renders invoice data into Excel workbooks for accounting
// handoff.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
)

const registerSheet = "Invoice Register"

var registerHeaders = []string{
	"Invoice ID", "Invoice Number", "Vendor", "Invoice Date", "Due Date",
	"Subtotal", "Tax", "Total", "Currency", "Status", "Rejection Reason",
}

// Exporter builds an invoice register workbook from the current invoice set.
type Exporter struct {
	invoices    port.InvoiceRepository
	vendors     port.VendorRepository
	companyName string
	logger      *zap.Logger
}

// NewExporter creates an Exporter.
func NewExporter(invoices port.InvoiceRepository, vendors port.VendorRepository, companyName string, logger *zap.Logger) *Exporter {
	return &Exporter{
		invoices:    invoices,
		vendors:     vendors,
		companyName: companyName,
		logger:      logger,
	}
}

// BuildRegister renders all invoices matching the filter into a workbook and
// returns its serialized bytes. Soft-deleted invoices never appear because the
// repository excludes them.
func (e *Exporter) BuildRegister(ctx context.Context, filter port.InvoiceFilter) ([]byte, error) {
	invoices, err := e.invoices.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices for export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(registerSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	e.setCell(f, "A1", e.companyName)
	e.setCell(f, "A2", "Generated "+time.Now().UTC().Format("2006-01-02 15:04"))

	headerRow := 4
	for col, header := range registerHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, headerRow)
		e.setCell(f, cell, header)
	}

	vendorNames := make(map[int64]string)
	total := decimal.Zero
	for i, inv := range invoices {
		row := headerRow + 1 + i
		e.writeInvoiceRow(ctx, f, row, inv, vendorNames)
		total = total.Add(inv.TotalAmount)
	}

	summaryRow := headerRow + len(invoices) + 2
	cell, _ := excelize.CoordinatesToCellName(1, summaryRow)
	e.setCell(f, cell, fmt.Sprintf("Total across %d invoices: %s", len(invoices), total.StringFixed(2)))

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	e.logger.Info("invoice register exported",
		zap.Int("invoices", len(invoices)),
		zap.String("status_filter", filter.Status))

	return buf.Bytes(), nil
}

func (e *Exporter) writeInvoiceRow(ctx context.Context, f *excelize.File, row int, inv *entity.Invoice, vendorNames map[int64]string) {
	values := []string{
		inv.ID,
		inv.InvoiceNumber,
		e.vendorName(ctx, inv.VendorID, vendorNames),
		formatDate(inv.InvoiceDate),
		formatDate(inv.DueDate),
		inv.Subtotal.StringFixed(2),
		inv.TaxAmount.StringFixed(2),
		inv.TotalAmount.StringFixed(2),
		inv.Currency,
		inv.Status,
		inv.RejectionReason,
	}
	for col, value := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		e.setCell(f, cell, value)
	}
}

// vendorName resolves a vendor id, caching lookups for the duration of one
// export. A nulled vendor reference renders as empty.
func (e *Exporter) vendorName(ctx context.Context, vendorID *int64, cache map[int64]string) string {
	if vendorID == nil {
		return ""
	}
	if name, ok := cache[*vendorID]; ok {
		return name
	}
	vendor, err := e.vendors.GetByID(ctx, *vendorID)
	if err != nil || vendor == nil {
		cache[*vendorID] = ""
		return ""
	}
	cache[*vendorID] = vendor.Name
	return vendor.Name
}

func (e *Exporter) setCell(f *excelize.File, cell, value string) {
	if err := f.SetCellValue(registerSheet, cell, value); err != nil {
		e.logger.Warn("failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
