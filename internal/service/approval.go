package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dapurlaras/pos-api/internal/auth"
	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
)

// Errors returned by the approval service.
var (
	ErrApprovalNotFound = errors.New("approval request not found")
	ErrApprovalResolved = errors.New("approval request is already resolved")
	ErrApprovalPending  = errors.New("item already has a pending approval request")
	ErrInvalidDecision  = errors.New("decision must be APPROVED or REJECTED")
	ErrReasonRequired   = errors.New("reason is required")
	ErrItemNotOnBill    = errors.New("item does not belong to the bill")
	ErrItemChanged      = errors.New("bill item changed since the request was made")
	ErrLastItem         = errors.New("cannot remove the last item on a bill")
	ErrNotAuthorized    = errors.New("manager credentials rejected")
)

// ApprovalStore defines the DB methods needed for item-removal approvals.
// Satisfied by *database.Queries (and its WithTx variant).
type ApprovalStore interface {
	GetBillForUpdate(ctx context.Context, id uuid.UUID) (database.Bill, error)
	GetBillItem(ctx context.Context, id uuid.UUID) (database.BillItem, error)
	ListBillItemsByBill(ctx context.Context, billID uuid.UUID) ([]database.BillItem, error)
	GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
	CreateApprovalRequest(ctx context.Context, arg database.CreateApprovalRequestParams) (database.ApprovalRequest, error)
	GetApprovalRequestForUpdate(ctx context.Context, id uuid.UUID) (database.ApprovalRequest, error)
	ResolveApprovalRequest(ctx context.Context, arg database.ResolveApprovalRequestParams) (database.ApprovalRequest, error)
	DeleteBillItem(ctx context.Context, id uuid.UUID) error
	CreateDeletionLogEntry(ctx context.Context, arg database.CreateDeletionLogEntryParams) (database.DeletionLogEntry, error)
	UpdateBillTotals(ctx context.Context, arg database.UpdateBillTotalsParams) (database.Bill, error)
}

// NewApprovalStore creates an ApprovalStore from a DBTX (pool or tx).
type NewApprovalStore func(db database.DBTX) ApprovalStore

// RequestCancellationRequest asks for an item to be removed from a bill.
type RequestCancellationRequest struct {
	BillID      uuid.UUID
	BillItemID  uuid.UUID
	Reason      string
	RequestedBy uuid.UUID
}

// ApprovalDecisionRequest resolves a pending request. The approver proves
// MANAGER or ADMIN standing with email + PIN, independent of whoever is
// logged in at the terminal.
type ApprovalDecisionRequest struct {
	RequestID     uuid.UUID
	Decision      string // APPROVED or REJECTED
	ApproverEmail string
	ApproverPIN   string
}

// ResolveResult is the outcome of a resolved approval request.
// Bill and Items are set only when the decision was APPROVED, in which case
// they reflect the bill after the removal.
type ResolveResult struct {
	Request database.ApprovalRequest
	Bill    *database.Bill
	Items   []database.BillItem
}

// ApprovalService handles the two-person removal flow: a cashier requests,
// a manager approves, and only then does the item leave the bill.
type ApprovalService struct {
	pool     TxBeginner
	newStore NewApprovalStore
	verifier auth.CredentialVerifier
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(pool TxBeginner, newStore NewApprovalStore, verifier auth.CredentialVerifier) *ApprovalService {
	return &ApprovalService{pool: pool, newStore: newStore, verifier: verifier}
}

// RequestCancellation opens a pending approval request for one bill item,
// snapshotting the item as it looks right now. At most one pending request
// may exist per item.
func (s *ApprovalService) RequestCancellation(ctx context.Context, req RequestCancellationRequest) (database.ApprovalRequest, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return database.ApprovalRequest{}, ErrReasonRequired
	}

	request, err := s.requestCancellationTx(ctx, req)
	if err != nil {
		if isUniqueViolation(err, "approval_requests_pending_item_key") {
			return database.ApprovalRequest{}, ErrApprovalPending
		}
		return database.ApprovalRequest{}, err
	}
	return request, nil
}

func (s *ApprovalService) requestCancellationTx(ctx context.Context, req RequestCancellationRequest) (database.ApprovalRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.ApprovalRequest{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	bill, err := store.GetBillForUpdate(ctx, req.BillID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.ApprovalRequest{}, ErrBillNotFound
		}
		return database.ApprovalRequest{}, fmt.Errorf("get bill: %w", err)
	}
	if err := billEditable(bill); err != nil {
		return database.ApprovalRequest{}, err
	}

	item, err := store.GetBillItem(ctx, req.BillItemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.ApprovalRequest{}, ErrItemNotOnBill
		}
		return database.ApprovalRequest{}, fmt.Errorf("get bill item: %w", err)
	}
	if item.BillID != bill.ID {
		return database.ApprovalRequest{}, ErrItemNotOnBill
	}

	// Refuse a request that could never be approved.
	items, err := store.ListBillItemsByBill(ctx, bill.ID)
	if err != nil {
		return database.ApprovalRequest{}, fmt.Errorf("list bill items: %w", err)
	}
	if len(items) <= 1 {
		return database.ApprovalRequest{}, ErrLastItem
	}

	request, err := store.CreateApprovalRequest(ctx, database.CreateApprovalRequestParams{
		BillID:        bill.ID,
		BillItemID:    item.ID,
		ItemName:      item.Name,
		ItemQuantity:  item.Quantity,
		ItemUnitPrice: item.UnitPrice,
		Reason:        strings.TrimSpace(req.Reason),
		RequestedBy:   req.RequestedBy,
	})
	if err != nil {
		return database.ApprovalRequest{}, fmt.Errorf("create approval request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.ApprovalRequest{}, fmt.Errorf("commit tx: %w", err)
	}
	return request, nil
}

// Resolve decides a pending approval request. A rejection only marks the
// request; an approval removes the item, recomputes the bill totals, and
// writes the deletion log entry, all in one transaction.
func (s *ApprovalService) Resolve(ctx context.Context, req ApprovalDecisionRequest) (*ResolveResult, error) {
	switch req.Decision {
	case enum.ApprovalStatusApproved, enum.ApprovalStatusRejected:
	default:
		return nil, ErrInvalidDecision
	}

	approverID, err := s.verifier.VerifyElevation(ctx, req.ApproverEmail, req.ApproverPIN)
	if err != nil {
		if errors.Is(err, auth.ErrElevationDenied) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("verify elevation: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	request, err := store.GetApprovalRequestForUpdate(ctx, req.RequestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	if request.Status != enum.ApprovalStatusPending {
		return nil, ErrApprovalResolved
	}

	if req.Decision == enum.ApprovalStatusRejected {
		request, err = store.ResolveApprovalRequest(ctx, database.ResolveApprovalRequestParams{
			ID:         request.ID,
			Status:     enum.ApprovalStatusRejected,
			ResolvedBy: approverID,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve approval request: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return &ResolveResult{Request: request}, nil
	}

	// --- Approved: remove the item under the bill lock ---
	bill, err := store.GetBillForUpdate(ctx, request.BillID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillNotFound
		}
		return nil, fmt.Errorf("get bill: %w", err)
	}
	if err := billEditable(bill); err != nil {
		return nil, err
	}
	if err := ensureNoActiveSplit(ctx, store, bill.ID); err != nil {
		return nil, err
	}

	items, err := store.ListBillItemsByBill(ctx, bill.ID)
	if err != nil {
		return nil, fmt.Errorf("list bill items: %w", err)
	}
	var target *database.BillItem
	remaining := make([]database.BillItem, 0, len(items))
	for i := range items {
		if items[i].ID == request.BillItemID {
			target = &items[i]
			continue
		}
		remaining = append(remaining, items[i])
	}
	if target == nil {
		return nil, ErrItemChanged
	}
	// The request snapshots the item at request time. If the line was edited
	// since, the manager approved something that no longer exists.
	if target.Name != request.ItemName ||
		target.Quantity != request.ItemQuantity ||
		!numericToDecimal(target.UnitPrice).Equal(numericToDecimal(request.ItemUnitPrice)) {
		return nil, ErrItemChanged
	}
	if len(items) <= 1 {
		return nil, ErrLastItem
	}

	if err := store.DeleteBillItem(ctx, target.ID); err != nil {
		return nil, fmt.Errorf("delete bill item: %w", err)
	}

	subtotal := sumBillItems(remaining)
	discount := numericToDecimal(bill.Discount)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	total := subtotal.Sub(discount)

	request, err = store.ResolveApprovalRequest(ctx, database.ResolveApprovalRequestParams{
		ID:         request.ID,
		Status:     enum.ApprovalStatusApproved,
		ResolvedBy: approverID,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve approval request: %w", err)
	}

	if _, err := store.CreateDeletionLogEntry(ctx, database.CreateDeletionLogEntryParams{
		BillID:        bill.ID,
		BillNumber:    bill.BillNumber,
		ItemName:      request.ItemName,
		ItemQuantity:  request.ItemQuantity,
		ItemUnitPrice: request.ItemUnitPrice,
		Reason:        request.Reason,
		RequestedBy:   request.RequestedBy,
		ApprovedBy:    approverID,
		RequestedAt:   request.RequestedAt,
	}); err != nil {
		return nil, fmt.Errorf("create deletion log entry: %w", err)
	}

	bill, err = store.UpdateBillTotals(ctx, database.UpdateBillTotalsParams{
		ID:       bill.ID,
		Subtotal: decimalToNumeric(subtotal),
		Discount: decimalToNumeric(discount),
		Total:    decimalToNumeric(total),
	})
	if err != nil {
		return nil, fmt.Errorf("update bill totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &ResolveResult{Request: request, Bill: &bill, Items: remaining}, nil
}
