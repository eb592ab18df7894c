package http

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/application/service"
	"github.com/apexfin/invoiceflow/internal/domain/apperr"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/report"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	ctxKeyActor = "actor"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	intake   *service.IntakeService
	invoices *service.InvoiceService
	vendors  *service.VendorService
	users    port.UserRepository
	files    port.FileStore
	exporter *report.Exporter
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	intake *service.IntakeService,
	invoices *service.InvoiceService,
	vendors *service.VendorService,
	users port.UserRepository,
	files port.FileStore,
	exporter *report.Exporter,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		intake:   intake,
		invoices: invoices,
		vendors:  vendors,
		users:    users,
		files:    files,
		exporter: exporter,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// actor is the authenticated request identity after header resolution.
type actor struct {
	User *entity.User
}

// actorMiddleware resolves X-User-ID / X-User-Role against the users table.
// Auth proper (tokens, sessions) is out of scope; the headers stand in for it,
// but the identity must exist and the claimed role must match the stored one.
func (h *Handlers) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.GetHeader(headerUserID)
		role := c.GetHeader(headerUserRole)
		if idStr == "" || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing X-User-ID or X-User-Role header",
			})
			return
		}

		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "invalid X-User-ID header",
			})
			return
		}

		user, err := h.users.GetByID(c.Request.Context(), id)
		if err != nil {
			h.logger.Error("failed to resolve actor", zap.Int64("user_id", id), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
				Success: false,
				Error:   "failed to resolve user",
			})
			return
		}
		if user == nil || user.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{
				Success: false,
				Error:   "unknown user or role mismatch",
			})
			return
		}

		c.Set(ctxKeyActor, &actor{User: user})
		c.Next()
	}
}

func (h *Handlers) actor(c *gin.Context) *actor {
	v, _ := c.Get(ctxKeyActor)
	return v.(*actor)
}

// writeError maps semantic error kinds onto HTTP status codes.
func (h *Handlers) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.IsKind(err, apperr.ErrValidation),
		apperr.IsKind(err, apperr.ErrInvalidFileFormat),
		apperr.IsKind(err, apperr.ErrFileTooLarge):
		status = http.StatusBadRequest
	case apperr.IsKind(err, apperr.ErrInsufficientPermissions):
		status = http.StatusForbidden
	case apperr.IsKind(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case apperr.IsKind(err, apperr.ErrInvalidStatusTransition),
		apperr.IsKind(err, apperr.ErrDuplicateInvoice):
		status = http.StatusConflict
	case apperr.IsKind(err, apperr.ErrExtractionFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// SubmitInvoice handles POST /api/v1/invoices (multipart upload).
func (h *Handlers) SubmitInvoice(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "missing file field"})
		return
	}
	if fileHeader.Size > service.MaxUploadSize {
		h.writeError(c, apperr.New(apperr.ErrFileTooLarge, "file exceeds %d bytes", service.MaxUploadSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, service.MaxUploadSize+1))
	if err != nil {
		h.writeError(c, err)
		return
	}

	invoice, err := h.intake.SubmitInvoice(c.Request.Context(), service.Upload{
		Filename: fileHeader.Filename,
		MIMEType: fileHeader.Header.Get("Content-Type"),
		Size:     int64(len(content)),
		Content:  content,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: invoice})
}

// ListInvoices handles GET /api/v1/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	filter, ok := h.invoiceFilter(c)
	if !ok {
		return
	}

	invoices, err := h.invoices.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: invoices})
}

func (h *Handlers) invoiceFilter(c *gin.Context) (port.InvoiceFilter, bool) {
	filter := port.InvoiceFilter{Status: c.Query("status")}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid limit"})
			return filter, false
		}
		filter.Limit = limit
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid offset"})
			return filter, false
		}
		filter.Offset = offset
	}
	return filter, true
}

// GetInvoice handles GET /api/v1/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	invoice, err := h.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: invoice})
}

// invoiceUpdateRequest carries editable header fields; absent fields stay
// unchanged.
type invoiceUpdateRequest struct {
	VendorID      *int64  `json:"vendor_id"`
	InvoiceNumber *string `json:"invoice_number"`
	InvoiceDate   *string `json:"invoice_date"`
	DueDate       *string `json:"due_date"`
	Subtotal      *string `json:"subtotal"`
	TaxAmount     *string `json:"tax_amount"`
	TotalAmount   *string `json:"total_amount"`
	Currency      *string `json:"currency"`
}

// UpdateInvoice handles PATCH /api/v1/invoices/:id
func (h *Handlers) UpdateInvoice(c *gin.Context) {
	var req invoiceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	upd, err := req.toUpdate()
	if err != nil {
		h.writeError(c, err)
		return
	}

	act := h.actor(c)
	invoice, err := h.invoices.UpdateFields(c.Request.Context(), c.Param("id"), act.User.Role, upd)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: invoice})
}

func (r *invoiceUpdateRequest) toUpdate() (*entity.InvoiceUpdate, error) {
	upd := &entity.InvoiceUpdate{
		VendorID:      r.VendorID,
		InvoiceNumber: r.InvoiceNumber,
		Currency:      r.Currency,
	}

	var err error
	if upd.InvoiceDate, err = parseDatePtr(r.InvoiceDate, "invoice_date"); err != nil {
		return nil, err
	}
	if upd.DueDate, err = parseDatePtr(r.DueDate, "due_date"); err != nil {
		return nil, err
	}
	if upd.Subtotal, err = parseDecimalPtr(r.Subtotal, "subtotal"); err != nil {
		return nil, err
	}
	if upd.TaxAmount, err = parseDecimalPtr(r.TaxAmount, "tax_amount"); err != nil {
		return nil, err
	}
	if upd.TotalAmount, err = parseDecimalPtr(r.TotalAmount, "total_amount"); err != nil {
		return nil, err
	}
	return upd, nil
}

func parseDatePtr(value *string, field string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *value)
	if err != nil {
		return nil, apperr.New(apperr.ErrValidation, "%s must be YYYY-MM-DD", field)
	}
	return &t, nil
}

func parseDecimalPtr(value *string, field string) (*decimal.Decimal, error) {
	if value == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*value)
	if err != nil {
		return nil, apperr.New(apperr.ErrValidation, "%s must be a decimal number", field)
	}
	return &d, nil
}

// transitionRequest carries the optional payload of a transition action.
type transitionRequest struct {
	Reason string `json:"reason"`
}

// transitionHandler builds a handler firing the given workflow action as the
// resolved actor.
func (h *Handlers) transitionHandler(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
				return
			}
		}

		act := h.actor(c)
		invoice, err := h.invoices.Transition(c.Request.Context(), c.Param("id"), service.TransitionRequest{
			Action:    action,
			ActorID:   act.User.ID,
			ActorRole: act.User.Role,
			Reason:    req.Reason,
		})
		if err != nil {
			h.writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, Response{Success: true, Data: invoice})
	}
}

// AssignInvoice handles POST /api/v1/invoices/:id/assign
func (h *Handlers) AssignInvoice(c *gin.Context) {
	var req struct {
		AssigneeID *int64 `json:"assignee_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AssigneeID == nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "assignee_id is required"})
		return
	}

	act := h.actor(c)
	invoice, err := h.invoices.Transition(c.Request.Context(), c.Param("id"), service.TransitionRequest{
		Action:     service.ActionAssign,
		ActorID:    act.User.ID,
		ActorRole:  act.User.Role,
		AssigneeID: req.AssigneeID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: invoice})
}

// ExportInvoices handles GET /api/v1/invoices/export
func (h *Handlers) ExportInvoices(c *gin.Context) {
	filter, ok := h.invoiceFilter(c)
	if !ok {
		return
	}
	// exports are unbounded unless the caller asks otherwise
	if c.Query("limit") == "" {
		filter.Limit = 0
	}

	content, err := h.exporter.BuildRegister(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	filename := "invoice-register-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		content)
}

// ServeFile handles GET /files/:name. The name is flattened to its base
// component and resolved through the store, which rejects anything outside
// the upload root.
func (h *Handlers) ServeFile(c *gin.Context) {
	name := path.Base(c.Param("name"))
	absPath, err := h.files.Resolve(name)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "file not found"})
		return
	}
	c.File(absPath)
}

// CreateVendor handles POST /api/v1/vendors
func (h *Handlers) CreateVendor(c *gin.Context) {
	var vendor entity.Vendor
	if err := c.ShouldBindJSON(&vendor); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	created, err := h.vendors.Create(c.Request.Context(), &vendor)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// ListVendors handles GET /api/v1/vendors
func (h *Handlers) ListVendors(c *gin.Context) {
	limit, offset := pagination(c)
	vendors, err := h.vendors.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: vendors})
}

// GetVendor handles GET /api/v1/vendors/:id
func (h *Handlers) GetVendor(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	vendor, err := h.vendors.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: vendor})
}

// UpdateVendor handles PUT /api/v1/vendors/:id
func (h *Handlers) UpdateVendor(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var vendor entity.Vendor
	if err := c.ShouldBindJSON(&vendor); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}
	vendor.ID = id

	updated, err := h.vendors.Update(c.Request.Context(), &vendor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// DeleteVendor handles DELETE /api/v1/vendors/:id
func (h *Handlers) DeleteVendor(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.vendors.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListUsers handles GET /api/v1/users
func (h *Handlers) ListUsers(c *gin.Context) {
	limit, offset := pagination(c)
	users, err := h.users.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: users})
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid id"})
		return 0, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
