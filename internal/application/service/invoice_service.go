package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/apexfin/invoiceflow/internal/application/port"
	"github.com/apexfin/invoiceflow/internal/domain/apperr"
	"github.com/apexfin/invoiceflow/internal/domain/entity"
	"github.com/apexfin/invoiceflow/internal/domain/workflow"
)

// Action names accepted by Transition.
const (
	ActionSubmit  = "submit_for_approval"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionAssign  = "assign"
	ActionDelete  = "delete"
)

// TransitionRequest is one human action against an invoice.
type TransitionRequest struct {
	Action     string
	ActorID    int64
	ActorRole  string
	AssigneeID *int64 // assign only
	Reason     string // reject only
}

// InvoiceService applies status transitions and field edits. Every mutation
// re-reads the current status inside the same transaction that performs the
// write, and every status UPDATE is conditional on that status, so two
// concurrent transitions can never both succeed.
type InvoiceService struct {
	invoices  port.InvoiceRepository
	users     port.UserRepository
	txManager port.TransactionManager
	logger    *zap.Logger
}

// NewInvoiceService creates an InvoiceService.
func NewInvoiceService(
	invoices port.InvoiceRepository,
	users port.UserRepository,
	txManager port.TransactionManager,
	logger *zap.Logger,
) *InvoiceService {
	return &InvoiceService{
		invoices:  invoices,
		users:     users,
		txManager: txManager,
		logger:    logger,
	}
}

// Get returns one invoice with its line items.
func (s *InvoiceService) Get(ctx context.Context, id string) (*entity.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, apperr.New(apperr.ErrNotFound, "invoice %s", id)
	}
	return inv, nil
}

// List returns invoices matching the filter.
func (s *InvoiceService) List(ctx context.Context, filter port.InvoiceFilter) ([]*entity.Invoice, error) {
	if filter.Status != "" && !workflow.State(filter.Status).IsValid() {
		return nil, apperr.New(apperr.ErrValidation, "unknown status %q", filter.Status)
	}
	return s.invoices.List(ctx, filter)
}

// Transition executes one action against the invoice. Returns the updated
// record, or ErrInvalidStatusTransition / ErrInsufficientPermissions with no
// mutation.
func (s *InvoiceService) Transition(ctx context.Context, invoiceID string, req TransitionRequest) (*entity.Invoice, error) {
	if !entity.IsValidRole(req.ActorRole) {
		return nil, apperr.New(apperr.ErrValidation, "unknown role %q", req.ActorRole)
	}

	if req.Action == ActionAssign {
		return s.assign(ctx, invoiceID, req)
	}

	trigger, err := triggerFor(req.Action)
	if err != nil {
		return nil, err
	}
	if req.Action == ActionReject && req.Reason == "" {
		return nil, apperr.New(apperr.ErrValidation, "reject requires a reason")
	}

	var updated *entity.Invoice
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inv, err := s.invoices.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return apperr.New(apperr.ErrNotFound, "invoice %s", invoiceID)
		}

		if !workflow.RoleMayFire(req.ActorRole, trigger) {
			return apperr.New(apperr.ErrInsufficientPermissions,
				"role %s may not %s", req.ActorRole, req.Action)
		}

		machine := workflow.BuildInvoiceStateMachine(workflow.State(inv.Status))
		if err := machine.Fire(txCtx, trigger); err != nil {
			if errors.Is(err, workflow.ErrInvalidTransition) {
				return apperr.New(apperr.ErrInvalidStatusTransition,
					"cannot %s an invoice in status %s", req.Action, inv.Status)
			}
			return err
		}
		newStatus := machine.State()

		var approvedBy *int64
		var reason *string
		switch req.Action {
		case ActionApprove:
			approvedBy = &req.ActorID
		case ActionReject:
			reason = &req.Reason
		}

		fromStatus := inv.Status
		affected, err := s.invoices.TransitionStatus(txCtx, invoiceID, fromStatus, newStatus.String(), approvedBy, reason)
		if err != nil {
			return err
		}
		if affected == 0 {
			// Another transaction won the race since our read.
			return apperr.New(apperr.ErrInvalidStatusTransition,
				"invoice %s left status %s concurrently", invoiceID, fromStatus)
		}

		updated, err = s.invoices.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		if updated == nil {
			// Soft delete hides the row from reads; return the last known
			// record with the new status.
			inv.Status = newStatus.String()
			updated = inv
		}

		s.logger.Info("invoice transitioned",
			zap.String("invoice_id", invoiceID),
			zap.String("action", req.Action),
			zap.String("from", fromStatus),
			zap.String("to", newStatus.String()),
			zap.Int64("actor_id", req.ActorID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// assign sets assigned_to on any non-terminal invoice; the status is not
// changed and any role may do it.
func (s *InvoiceService) assign(ctx context.Context, invoiceID string, req TransitionRequest) (*entity.Invoice, error) {
	if req.AssigneeID == nil {
		return nil, apperr.New(apperr.ErrValidation, "assign requires an assignee id")
	}

	var updated *entity.Invoice
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		assignee, err := s.users.GetByID(txCtx, *req.AssigneeID)
		if err != nil {
			return err
		}
		if assignee == nil {
			return apperr.New(apperr.ErrNotFound, "user %d", *req.AssigneeID)
		}

		inv, err := s.invoices.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return apperr.New(apperr.ErrNotFound, "invoice %s", invoiceID)
		}
		if workflow.State(inv.Status).IsTerminal() {
			return apperr.New(apperr.ErrInvalidStatusTransition,
				"cannot assign an invoice in terminal status %s", inv.Status)
		}

		affected, err := s.invoices.SetAssignee(txCtx, invoiceID, *req.AssigneeID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.New(apperr.ErrInvalidStatusTransition,
				"invoice %s reached a terminal status concurrently", invoiceID)
		}

		updated, err = s.invoices.GetByID(txCtx, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateFields mutates header fields while the invoice is still editable.
func (s *InvoiceService) UpdateFields(ctx context.Context, invoiceID, actorRole string, upd *entity.InvoiceUpdate) (*entity.Invoice, error) {
	if !entity.IsValidRole(actorRole) {
		return nil, apperr.New(apperr.ErrValidation, "unknown role %q", actorRole)
	}
	if !workflow.RoleMayEdit(actorRole) {
		return nil, apperr.New(apperr.ErrInsufficientPermissions, "role %s may not edit invoices", actorRole)
	}
	if err := validateUpdate(upd); err != nil {
		return nil, err
	}

	var updated *entity.Invoice
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inv, err := s.invoices.GetByID(txCtx, invoiceID)
		if err != nil {
			return err
		}
		if inv == nil {
			return apperr.New(apperr.ErrNotFound, "invoice %s", invoiceID)
		}
		if !workflow.State(inv.Status).IsEditable() {
			return apperr.New(apperr.ErrInvalidStatusTransition,
				"cannot edit an invoice in status %s", inv.Status)
		}

		affected, err := s.invoices.UpdateFields(txCtx, invoiceID, upd)
		if err != nil {
			return err
		}
		if affected == 0 {
			return apperr.New(apperr.ErrInvalidStatusTransition,
				"invoice %s left an editable status concurrently", invoiceID)
		}

		updated, err = s.invoices.GetByID(txCtx, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func triggerFor(action string) (workflow.Trigger, error) {
	switch action {
	case ActionSubmit:
		return workflow.TriggerSubmit, nil
	case ActionApprove:
		return workflow.TriggerApprove, nil
	case ActionReject:
		return workflow.TriggerReject, nil
	case ActionDelete:
		return workflow.TriggerDelete, nil
	default:
		return "", apperr.New(apperr.ErrValidation, "unknown action %q", action)
	}
}

func validateUpdate(upd *entity.InvoiceUpdate) error {
	if upd == nil {
		return apperr.New(apperr.ErrValidation, "empty update")
	}
	if upd.Subtotal != nil && upd.Subtotal.IsNegative() {
		return apperr.New(apperr.ErrValidation, "subtotal must not be negative")
	}
	if upd.TaxAmount != nil && upd.TaxAmount.IsNegative() {
		return apperr.New(apperr.ErrValidation, "tax amount must not be negative")
	}
	if upd.TotalAmount != nil && upd.TotalAmount.IsNegative() {
		return apperr.New(apperr.ErrValidation, "total amount must not be negative")
	}
	if upd.Currency != nil && len(*upd.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", apperr.ErrValidation)
	}
	return nil
}
