package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/durable"
	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/apperr"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/domain/validation"
)

// pdfBytes returns minimal content that sniffs as application/pdf, padded to
// the requested size.
func pdfBytes(size int) []byte {
	content := []byte("%PDF-1.4\n")
	if size <= len(content) {
		return content[:size]
	}
	return append(content, bytes.Repeat([]byte{' '}, size-len(content))...)
}

// stubExtractor returns a canned result or error.
type stubExtractor struct {
	result *entity.ExtractionResult
	err    error
	calls  int
}

func (s *stubExtractor) Extract(_ context.Context, _ []byte, _ string) (*entity.ExtractionResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// stubFileStore records saves in memory.
type stubFileStore struct {
	saves int
	files map[string][]byte
}

func newStubFileStore() *stubFileStore {
	return &stubFileStore{files: make(map[string][]byte)}
}

func (s *stubFileStore) Save(_ context.Context, originalName string, content []byte) (string, error) {
	s.saves++
	path := fmt.Sprintf("stored-%d-%s", s.saves, originalName)
	s.files[path] = content
	return path, nil
}

func (s *stubFileStore) Read(_ context.Context, relativePath string) ([]byte, error) {
	content, ok := s.files[relativePath]
	if !ok {
		return nil, errors.New("no such file")
	}
	return content, nil
}

func (s *stubFileStore) Resolve(relativePath string) (string, error) {
	return "/abs/" + relativePath, nil
}

// fakeVendorRepo is a minimal in-memory VendorRepository.
type fakeVendorRepo struct {
	vendors map[int64]*entity.Vendor
	nextID  int64
}

func newFakeVendorRepo() *fakeVendorRepo {
	return &fakeVendorRepo{vendors: make(map[int64]*entity.Vendor), nextID: 1}
}

func (r *fakeVendorRepo) Create(_ context.Context, vendor *entity.Vendor) error {
	vendor.ID = r.nextID
	r.nextID++
	r.vendors[vendor.ID] = vendor
	return nil
}

func (r *fakeVendorRepo) GetByID(_ context.Context, id int64) (*entity.Vendor, error) {
	return r.vendors[id], nil
}

func (r *fakeVendorRepo) GetByName(_ context.Context, name string) (*entity.Vendor, error) {
	for _, v := range r.vendors {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, nil
}

func (r *fakeVendorRepo) List(_ context.Context, _, _ int) ([]*entity.Vendor, error) {
	var out []*entity.Vendor
	for _, v := range r.vendors {
		out = append(out, v)
	}
	return out, nil
}

func (r *fakeVendorRepo) Update(_ context.Context, vendor *entity.Vendor) error {
	r.vendors[vendor.ID] = vendor
	return nil
}

func (r *fakeVendorRepo) Delete(_ context.Context, id int64) error {
	delete(r.vendors, id)
	return nil
}

// fakeLineItemRepo stores line items per invoice.
type fakeLineItemRepo struct {
	items map[string][]*entity.LineItem
}

func newFakeLineItemRepo() *fakeLineItemRepo {
	return &fakeLineItemRepo{items: make(map[string][]*entity.LineItem)}
}

func (r *fakeLineItemRepo) CreateBatch(_ context.Context, invoiceID string, items []*entity.LineItem) error {
	r.items[invoiceID] = append(r.items[invoiceID], items...)
	return nil
}

func (r *fakeLineItemRepo) GetByInvoiceID(_ context.Context, invoiceID string) ([]*entity.LineItem, error) {
	items := r.items[invoiceID]
	sorted := make([]*entity.LineItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LineNumber < sorted[j].LineNumber })
	return sorted, nil
}

// intakeRunStore is the in-memory workflow run store for intake tests.
type intakeRunStore struct {
	runs        map[string]*port.WorkflowRun
	checkpoints map[string][]byte
}

func newIntakeRunStore() *intakeRunStore {
	return &intakeRunStore{
		runs:        make(map[string]*port.WorkflowRun),
		checkpoints: make(map[string][]byte),
	}
}

func (m *intakeRunStore) GetRun(_ context.Context, runID string) (*port.WorkflowRun, error) {
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	copied := *run
	return &copied, nil
}

func (m *intakeRunStore) CreateRun(_ context.Context, runID, name string) error {
	if _, ok := m.runs[runID]; !ok {
		m.runs[runID] = &port.WorkflowRun{RunID: runID, Name: name, Status: port.RunStatusRunning}
	}
	return nil
}

func (m *intakeRunStore) CompleteRun(_ context.Context, runID string, output []byte) error {
	m.runs[runID].Status = port.RunStatusCompleted
	m.runs[runID].Output = output
	return nil
}

func (m *intakeRunStore) FailRun(_ context.Context, runID string, lastError string) error {
	m.runs[runID].Status = port.RunStatusFailed
	m.runs[runID].LastError = lastError
	return nil
}

func (m *intakeRunStore) GetCheckpoint(_ context.Context, runID, stepName string) ([]byte, error) {
	return m.checkpoints[runID+"/"+stepName], nil
}

func (m *intakeRunStore) SaveCheckpoint(_ context.Context, runID, stepName string, result []byte) error {
	m.checkpoints[runID+"/"+stepName] = result
	return nil
}

func goodExtraction(overall float64) *entity.ExtractionResult {
	return &entity.ExtractionResult{
		Document: entity.ExtractedDocument{
			VendorName:    "Acme Office Supply",
			InvoiceNumber: "INV-1042",
			InvoiceDate:   "2026-08-01",
			Subtotal:      decimal.RequireFromString("150.00"),
			TaxAmount:     decimal.RequireFromString("12.00"),
			TotalAmount:   decimal.RequireFromString("162.00"),
			Currency:      "USD",
			LineItems: []entity.ExtractedLine{
				{Description: "Paper", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.RequireFromString("5.00"), LineTotal: decimal.RequireFromString("50.00")},
				{Description: "Toner", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("50.00"), LineTotal: decimal.RequireFromString("100.00")},
			},
		},
		Confidence: entity.ConfidenceReport{OverallConfidence: overall},
	}
}

type intakeFixture struct {
	svc       *IntakeService
	extractor *stubExtractor
	files     *stubFileStore
	invoices  *fakeInvoiceRepo
	lineItems *fakeLineItemRepo
	vendors   *fakeVendorRepo
	runs      *intakeRunStore
}

func newIntakeFixture(extractor *stubExtractor) *intakeFixture {
	runs := newIntakeRunStore()
	runner := durable.NewRunner(runs, passthroughTx{}, durable.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, zap.NewNop())

	files := newStubFileStore()
	invoices := newFakeInvoiceRepo()
	lineItems := newFakeLineItemRepo()
	vendors := newFakeVendorRepo()

	return &intakeFixture{
		svc: NewIntakeService(runner, files, extractor, invoices, lineItems, vendors,
			validation.DefaultThresholds(), time.Second, zap.NewNop()),
		extractor: extractor,
		files:     files,
		invoices:  invoices,
		lineItems: lineItems,
		vendors:   vendors,
		runs:      runs,
	}
}

func pdfUpload(content []byte) Upload {
	return Upload{
		Filename: "invoice.pdf",
		MIMEType: "application/pdf",
		Size:     int64(len(content)),
		Content:  content,
	}
}

func TestValidateUpload_SizeBoundary(t *testing.T) {
	atLimit := pdfUpload(pdfBytes(int(MaxUploadSize)))
	assert.NoError(t, ValidateUpload(atLimit))

	overLimit := pdfUpload(pdfBytes(int(MaxUploadSize) + 1))
	err := ValidateUpload(overLimit)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ErrFileTooLarge))
}

func TestValidateUpload_RejectsUnsupportedContent(t *testing.T) {
	err := ValidateUpload(Upload{
		Filename: "invoice.txt",
		Content:  []byte("just some text"),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ErrInvalidFileFormat))
}

func TestValidateUpload_RejectsMismatchedDeclaredType(t *testing.T) {
	up := pdfUpload(pdfBytes(64))
	up.MIMEType = "image/png"

	err := ValidateUpload(up)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ErrInvalidFileFormat))
}

func TestValidateUpload_RejectsEmpty(t *testing.T) {
	err := ValidateUpload(Upload{Filename: "empty.pdf"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ErrValidation))
}

func TestWorkflowID_DeterministicPerContent(t *testing.T) {
	a := pdfBytes(100)
	b := pdfBytes(101)

	assert.Equal(t, WorkflowID(a), WorkflowID(a))
	assert.NotEqual(t, WorkflowID(a), WorkflowID(b))
}

func TestSubmitInvoice_HighConfidenceAutoAdvances(t *testing.T) {
	fx := newIntakeFixture(&stubExtractor{result: goodExtraction(0.97)})

	inv, err := fx.svc.SubmitInvoice(context.Background(), pdfUpload(pdfBytes(256)))
	require.NoError(t, err)

	assert.Equal(t, "awaiting_approval", inv.Status)
	assert.Equal(t, "INV-1042", inv.InvoiceNumber)
	require.NotNil(t, inv.VendorID)

	vendor, err := fx.vendors.GetByName(context.Background(), "Acme Office Supply")
	require.NoError(t, err)
	require.NotNil(t, vendor, "unknown vendor must be created on the fly")
	assert.Equal(t, vendor.ID, *inv.VendorID)

	items, err := fx.lineItems.GetByInvoiceID(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].LineNumber)
	assert.Equal(t, "Paper", items[0].Description)
	assert.Equal(t, 2, items[1].LineNumber)
	assert.Equal(t, "Toner", items[1].Description)
}

func TestSubmitInvoice_MidConfidenceNeedsReview(t *testing.T) {
	fx := newIntakeFixture(&stubExtractor{result: goodExtraction(0.85)})

	inv, err := fx.svc.SubmitInvoice(context.Background(), pdfUpload(pdfBytes(256)))
	require.NoError(t, err)
	assert.Equal(t, "needs_review", inv.Status)
}

func TestSubmitInvoice_ResubmissionReplaysWithoutDuplicating(t *testing.T) {
	fx := newIntakeFixture(&stubExtractor{result: goodExtraction(0.97)})
	up := pdfUpload(pdfBytes(256))

	first, err := fx.svc.SubmitInvoice(context.Background(), up)
	require.NoError(t, err)

	second, err := fx.svc.SubmitInvoice(context.Background(), up)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same content must replay the same invoice")
	assert.Equal(t, 1, fx.extractor.calls, "completed workflow must not call the extractor again")
	assert.Equal(t, 1, fx.files.saves, "completed workflow must not store the file again")
	assert.Len(t, fx.invoices.invoices, 1)
}

func TestSubmitInvoice_SameNumberDifferentFileIsDuplicate(t *testing.T) {
	fx := newIntakeFixture(&stubExtractor{result: goodExtraction(0.97)})

	_, err := fx.svc.SubmitInvoice(context.Background(), pdfUpload(pdfBytes(256)))
	require.NoError(t, err)

	// Different bytes, so a new workflow run, but the extractor returns the
	// same invoice number and vendor.
	_, err = fx.svc.SubmitInvoice(context.Background(), pdfUpload(pdfBytes(300)))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ErrDuplicateInvoice))
	assert.Len(t, fx.invoices.invoices, 1)
}

func TestSubmitInvoice_ExtractionFailureIsWrapped(t *testing.T) {
	fx := newIntakeFixture(&stubExtractor{err: errors.New("model unavailable")})

	_, err := fx.svc.SubmitInvoice(context.Background(), pdfUpload(pdfBytes(256)))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.ErrExtractionFailed))
	assert.Equal(t, 2, fx.extractor.calls, "extraction should be retried per policy")
}

// failingCheckpointStore refuses to persist one step's checkpoint.
type failingCheckpointStore struct {
	*intakeRunStore
	failStep string
}

func (m *failingCheckpointStore) SaveCheckpoint(ctx context.Context, runID, stepName string, result []byte) error {
	if stepName == m.failStep {
		return errors.New("disk full")
	}
	return m.intakeRunStore.SaveCheckpoint(ctx, runID, stepName, result)
}

func TestSubmitInvoice_CheckpointFaultIsNotExtractionFailure(t *testing.T) {
	runs := &failingCheckpointStore{intakeRunStore: newIntakeRunStore(), failStep: "extract"}
	runner := durable.NewRunner(runs, passthroughTx{}, durable.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, zap.NewNop())

	extractor := &stubExtractor{result: goodExtraction(0.97)}
	svc := NewIntakeService(runner, newStubFileStore(), extractor, newFakeInvoiceRepo(),
		newFakeLineItemRepo(), newFakeVendorRepo(), validation.DefaultThresholds(), time.Second, zap.NewNop())

	_, err := svc.SubmitInvoice(context.Background(), pdfUpload(pdfBytes(256)))
	require.Error(t, err)
	assert.False(t, apperr.IsKind(err, apperr.ErrExtractionFailed),
		"a persistence fault after a successful extract must not read as an extraction failure")
	assert.Equal(t, 1, extractor.calls)
	assert.Contains(t, err.Error(), "save checkpoint")
}

func TestSubmitInvoice_ResumeAfterExtractionFailureReusesStoredFile(t *testing.T) {
	extractor := &stubExtractor{err: errors.New("model unavailable")}
	fx := newIntakeFixture(extractor)
	up := pdfUpload(pdfBytes(256))

	_, err := fx.svc.SubmitInvoice(context.Background(), up)
	require.Error(t, err)
	assert.Equal(t, 1, fx.files.saves)

	// The model recovers; resubmitting resumes the failed run.
	extractor.err = nil
	extractor.result = goodExtraction(0.97)

	inv, err := fx.svc.SubmitInvoice(context.Background(), up)
	require.NoError(t, err)
	assert.Equal(t, "awaiting_approval", inv.Status)
	assert.Equal(t, 1, fx.files.saves, "save-file checkpoint must be reused on resume")
}

func TestParseDate(t *testing.T) {
	d := parseDate("2026-08-01")
	require.NotNil(t, d)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), *d)

	assert.Nil(t, parseDate(""))
	assert.Nil(t, parseDate("not a date"))
}
