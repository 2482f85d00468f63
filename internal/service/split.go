package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
)

// Errors returned by the split service.
var (
	ErrSplitSessionNotFound = errors.New("no active split session for this bill")
	ErrSplitSessionExists   = errors.New("bill already has an active split session")
	ErrPartNotFound         = errors.New("split part not found")
	ErrPartPaid             = errors.New("split part is already paid")
	ErrMinParts             = errors.New("a split needs at least two parts")
	ErrAllocationQuantity   = errors.New("allocation quantity must be >= 0")
	ErrCancelPaidParts      = errors.New("cannot cancel a split with paid parts")
	ErrBillDiscountSplit    = errors.New("bills with a discount cannot be split")
)

// CapacityError reports an allocation that would oversubscribe a bill item
// across the split parts.
type CapacityError struct {
	ItemName  string
	Requested int32
	Remaining int32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cannot allocate %d of %s: only %d remaining", e.Requested, e.ItemName, e.Remaining)
}

// SplitStore defines the DB methods needed to manage split sessions.
// Satisfied by *database.Queries (and its WithTx variant).
type SplitStore interface {
	GetBillForUpdate(ctx context.Context, id uuid.UUID) (database.Bill, error)
	ListBillItemsByBill(ctx context.Context, billID uuid.UUID) ([]database.BillItem, error)
	CreateSplitSession(ctx context.Context, arg database.CreateSplitSessionParams) (database.SplitSession, error)
	GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
	CloseSplitSession(ctx context.Context, arg database.CloseSplitSessionParams) (database.SplitSession, error)
	CreateSplitPart(ctx context.Context, arg database.CreateSplitPartParams) (database.SplitPart, error)
	GetSplitPart(ctx context.Context, id uuid.UUID) (database.SplitPart, error)
	ListSplitPartsBySession(ctx context.Context, sessionID uuid.UUID) ([]database.SplitPart, error)
	DeleteSplitPart(ctx context.Context, id uuid.UUID) error
	UpsertSplitAllocation(ctx context.Context, arg database.UpsertSplitAllocationParams) (database.SplitAllocation, error)
	DeleteSplitAllocation(ctx context.Context, arg database.DeleteSplitAllocationParams) error
	ListSplitAllocationsBySession(ctx context.Context, sessionID uuid.UUID) ([]database.SplitAllocation, error)
}

// NewSplitStore creates a SplitStore from a DBTX (pool or tx).
type NewSplitStore func(db database.DBTX) SplitStore

// OpenSplitRequest opens a split session on a bill. PartCount defaults to 2.
// AssigneeNames labels the parts in order and may be shorter than PartCount.
type OpenSplitRequest struct {
	BillID        uuid.UUID
	CreatedBy     uuid.UUID
	PartCount     int32
	AssigneeNames []string
}

// AllocateRequest sets the allocation of one bill item on one part. Quantity
// zero clears it.
type AllocateRequest struct {
	BillID     uuid.UUID
	PartID     uuid.UUID
	BillItemID uuid.UUID
	Quantity   int32
}

// SplitDetail is a split session with its parts and allocations.
type SplitDetail struct {
	Session     database.SplitSession
	Parts       []database.SplitPart
	Allocations []database.SplitAllocation
}

// SplitService handles splitting a bill into separately payable parts.
// Every mutation locks the bill row first so split changes, item edits, and
// settlements serialize on the same lock.
type SplitService struct {
	pool     TxBeginner
	newStore NewSplitStore
}

// NewSplitService creates a new SplitService.
func NewSplitService(pool TxBeginner, newStore NewSplitStore) *SplitService {
	return &SplitService{pool: pool, newStore: newStore}
}

// OpenSplit opens a split session with empty parts on a live, undiscounted
// bill. At most one active session may exist per bill.
func (s *SplitService) OpenSplit(ctx context.Context, req OpenSplitRequest) (*SplitDetail, error) {
	partCount := req.PartCount
	if partCount == 0 {
		partCount = 2
	}
	if partCount < 2 {
		return nil, ErrMinParts
	}

	detail, err := s.openSplitTx(ctx, req, partCount)
	if err != nil {
		if isUniqueViolation(err, "split_sessions_active_bill_key") {
			return nil, ErrSplitSessionExists
		}
		return nil, err
	}
	return detail, nil
}

func (s *SplitService) openSplitTx(ctx context.Context, req OpenSplitRequest, partCount int32) (*SplitDetail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	bill, err := store.GetBillForUpdate(ctx, req.BillID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillNotFound
		}
		return nil, fmt.Errorf("get bill: %w", err)
	}
	if err := billEditable(bill); err != nil {
		return nil, err
	}
	// A bill-level discount has no owner among the parts, so it would break
	// the sum of part amounts against the bill total.
	if !numericToDecimal(bill.Discount).IsZero() {
		return nil, ErrBillDiscountSplit
	}

	_, err = store.GetActiveSplitSessionByBill(ctx, bill.ID)
	if err == nil {
		return nil, ErrSplitSessionExists
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get active split session: %w", err)
	}

	session, err := store.CreateSplitSession(ctx, database.CreateSplitSessionParams{
		BillID:    bill.ID,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create split session: %w", err)
	}

	parts := make([]database.SplitPart, 0, partCount)
	for i := int32(1); i <= partCount; i++ {
		name := ""
		if int(i) <= len(req.AssigneeNames) {
			name = req.AssigneeNames[i-1]
		}
		part, err := store.CreateSplitPart(ctx, database.CreateSplitPartParams{
			SessionID:    session.ID,
			PartNumber:   i,
			AssigneeName: textOrNull(name),
		})
		if err != nil {
			return nil, fmt.Errorf("create split part: %w", err)
		}
		parts = append(parts, part)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &SplitDetail{Session: session, Parts: parts}, nil
}

// AddPart appends an empty part to the bill's active split session.
func (s *SplitService) AddPart(ctx context.Context, billID uuid.UUID, assigneeName string) (database.SplitPart, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.SplitPart{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, _, err := lockBillWithActiveSession(ctx, store, billID)
	if err != nil {
		return database.SplitPart{}, err
	}

	parts, err := store.ListSplitPartsBySession(ctx, session.ID)
	if err != nil {
		return database.SplitPart{}, fmt.Errorf("list split parts: %w", err)
	}
	nextNumber := int32(1)
	for _, p := range parts {
		if p.PartNumber >= nextNumber {
			nextNumber = p.PartNumber + 1
		}
	}

	part, err := store.CreateSplitPart(ctx, database.CreateSplitPartParams{
		SessionID:    session.ID,
		PartNumber:   nextNumber,
		AssigneeName: textOrNull(assigneeName),
	})
	if err != nil {
		return database.SplitPart{}, fmt.Errorf("create split part: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.SplitPart{}, fmt.Errorf("commit tx: %w", err)
	}
	return part, nil
}

// RemovePart deletes an unpaid part from the active session. The session must
// keep at least two parts; allocations on the removed part are freed.
func (s *SplitService) RemovePart(ctx context.Context, billID, partID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, _, err := lockBillWithActiveSession(ctx, store, billID)
	if err != nil {
		return err
	}

	part, err := sessionPart(ctx, store, session.ID, partID)
	if err != nil {
		return err
	}
	if part.Paid {
		return ErrPartPaid
	}

	parts, err := store.ListSplitPartsBySession(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("list split parts: %w", err)
	}
	if len(parts) <= 2 {
		return ErrMinParts
	}

	if err := store.DeleteSplitPart(ctx, part.ID); err != nil {
		return fmt.Errorf("delete split part: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Allocate assigns a quantity of one bill item to one part. The same item
// may spread over several parts, but never beyond its billed quantity.
func (s *SplitService) Allocate(ctx context.Context, req AllocateRequest) (*SplitDetail, error) {
	if req.Quantity < 0 {
		return nil, ErrAllocationQuantity
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, _, err := lockBillWithActiveSession(ctx, store, req.BillID)
	if err != nil {
		return nil, err
	}

	part, err := sessionPart(ctx, store, session.ID, req.PartID)
	if err != nil {
		return nil, err
	}
	if part.Paid {
		return nil, ErrPartPaid
	}

	items, err := store.ListBillItemsByBill(ctx, req.BillID)
	if err != nil {
		return nil, fmt.Errorf("list bill items: %w", err)
	}
	var item *database.BillItem
	for i := range items {
		if items[i].ID == req.BillItemID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return nil, ErrItemNotOnBill
	}

	// Remaining capacity counts every other part, paid ones included.
	allocations, err := store.ListSplitAllocationsBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list split allocations: %w", err)
	}
	var allocated int32
	for _, a := range allocations {
		if a.BillItemID == item.ID && a.PartID != part.ID {
			allocated += a.Quantity
		}
	}
	remaining := item.Quantity - allocated
	if req.Quantity > remaining {
		return nil, &CapacityError{ItemName: item.Name, Requested: req.Quantity, Remaining: remaining}
	}

	if req.Quantity == 0 {
		err = store.DeleteSplitAllocation(ctx, database.DeleteSplitAllocationParams{
			PartID:     part.ID,
			BillItemID: item.ID,
		})
	} else {
		_, err = store.UpsertSplitAllocation(ctx, database.UpsertSplitAllocationParams{
			PartID:     part.ID,
			BillItemID: item.ID,
			Quantity:   req.Quantity,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("write split allocation: %w", err)
	}

	parts, err := store.ListSplitPartsBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list split parts: %w", err)
	}
	allocations, err = store.ListSplitAllocationsBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list split allocations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &SplitDetail{Session: session, Parts: parts, Allocations: allocations}, nil
}

// CancelSplit abandons the active session and returns the bill to whole-bill
// settling. Refused once any part has paid.
func (s *SplitService) CancelSplit(ctx context.Context, billID uuid.UUID) (database.SplitSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.SplitSession{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	session, _, err := lockBillWithActiveSession(ctx, store, billID)
	if err != nil {
		return database.SplitSession{}, err
	}

	parts, err := store.ListSplitPartsBySession(ctx, session.ID)
	if err != nil {
		return database.SplitSession{}, fmt.Errorf("list split parts: %w", err)
	}
	for _, p := range parts {
		if p.Paid {
			return database.SplitSession{}, ErrCancelPaidParts
		}
	}

	session, err = store.CloseSplitSession(ctx, database.CloseSplitSessionParams{
		ID:     session.ID,
		Status: enum.SplitSessionStatusCancelled,
	})
	if err != nil {
		return database.SplitSession{}, fmt.Errorf("close split session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.SplitSession{}, fmt.Errorf("commit tx: %w", err)
	}
	return session, nil
}

// --- Helpers ---

// billSessionLocker is the slice of the store needed to lock a bill and find
// its active split session.
type billSessionLocker interface {
	GetBillForUpdate(ctx context.Context, id uuid.UUID) (database.Bill, error)
	GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
}

// lockBillWithActiveSession takes the bill lock and resolves its active split
// session.
func lockBillWithActiveSession(ctx context.Context, store billSessionLocker, billID uuid.UUID) (database.SplitSession, database.Bill, error) {
	bill, err := store.GetBillForUpdate(ctx, billID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.SplitSession{}, database.Bill{}, ErrBillNotFound
		}
		return database.SplitSession{}, database.Bill{}, fmt.Errorf("get bill: %w", err)
	}

	session, err := store.GetActiveSplitSessionByBill(ctx, bill.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.SplitSession{}, database.Bill{}, ErrSplitSessionNotFound
		}
		return database.SplitSession{}, database.Bill{}, fmt.Errorf("get active split session: %w", err)
	}
	return session, bill, nil
}

// partGetter is the slice of the store needed to fetch one split part.
type partGetter interface {
	GetSplitPart(ctx context.Context, id uuid.UUID) (database.SplitPart, error)
}

// sessionPart fetches a part and checks it belongs to the session.
func sessionPart(ctx context.Context, store partGetter, sessionID, partID uuid.UUID) (database.SplitPart, error) {
	part, err := store.GetSplitPart(ctx, partID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.SplitPart{}, ErrPartNotFound
		}
		return database.SplitPart{}, fmt.Errorf("get split part: %w", err)
	}
	if part.SessionID != sessionID {
		return database.SplitPart{}, ErrPartNotFound
	}
	return part, nil
}
