package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
)

// Errors returned by the settlement service.
var (
	ErrInvalidSettleMode    = errors.New("invalid settle mode")
	ErrCartRequired         = errors.New("cart is required for cart mode")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidTendered      = errors.New("amount_tendered is required for cash and must be >= 0")
	ErrNoOpenShift          = errors.New("cashier has no open shift")
	ErrEmptyPart            = errors.New("split part has no allocations")
	ErrUnallocatedRemainder = errors.New("every item must be fully allocated before the last part settles")
)

// InsufficientPaymentError reports cash tendered below the amount due.
type InsufficientPaymentError struct {
	Due      decimal.Decimal
	Tendered decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("tendered %s does not cover %s", e.Tendered.StringFixed(2), e.Due.StringFixed(2))
}

// Shortfall is the amount still missing.
func (e *InsufficientPaymentError) Shortfall() decimal.Decimal {
	return e.Due.Sub(e.Tendered)
}

// SettlementStore defines the DB methods needed to settle bills and parts.
// Satisfied by *database.Queries (and its WithTx variant).
type SettlementStore interface {
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (database.Payment, error)
	GetBill(ctx context.Context, id uuid.UUID) (database.Bill, error)
	GetBillForUpdate(ctx context.Context, id uuid.UUID) (database.Bill, error)
	GetLiveBillByTableForUpdate(ctx context.Context, tableNumber string) (database.Bill, error)
	GetNextBillNumber(ctx context.Context) (int32, error)
	GetMenuItemForBill(ctx context.Context, id uuid.UUID) (database.GetMenuItemForBillRow, error)
	CreateBill(ctx context.Context, arg database.CreateBillParams) (database.Bill, error)
	CreateBillItem(ctx context.Context, arg database.CreateBillItemParams) (database.BillItem, error)
	ListBillItemsByBill(ctx context.Context, billID uuid.UUID) ([]database.BillItem, error)
	GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
	GetSplitPart(ctx context.Context, id uuid.UUID) (database.SplitPart, error)
	ListSplitAllocationsByPart(ctx context.Context, partID uuid.UUID) ([]database.SplitAllocation, error)
	ListSplitAllocationsBySession(ctx context.Context, sessionID uuid.UUID) ([]database.SplitAllocation, error)
	CountUnpaidSplitParts(ctx context.Context, sessionID uuid.UUID) (int64, error)
	MarkSplitPartPaid(ctx context.Context, id uuid.UUID) (database.SplitPart, error)
	CloseSplitSession(ctx context.Context, arg database.CloseSplitSessionParams) (database.SplitSession, error)
	SettleBill(ctx context.Context, arg database.SettleBillParams) (database.Bill, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	GetOpenShiftByCashierForUpdate(ctx context.Context, cashierID uuid.UUID) (database.Shift, error)
	AddShiftRevenue(ctx context.Context, arg database.AddShiftRevenueParams) (database.Shift, error)
}

// NewSettlementStore creates a SettlementStore from a DBTX (pool or tx).
type NewSettlementStore func(db database.DBTX) SettlementStore

// CartRequest is an unsaved bill settled in one step (counter sales).
type CartRequest struct {
	CustomerName string
	TableNumber  string
	Discount     string
	Items        []BillItemRequest
}

// SettleRequest is the validated input for taking a payment. Mode picks the
// target: CART creates and settles a fresh bill, WHOLE_BILL settles an open
// bill, SPLIT_PART settles one part of the bill's active split session.
type SettleRequest struct {
	Mode            string
	CashierID       uuid.UUID
	PaymentMethod   string // CASH or QRIS
	AmountTendered  string // decimal, required for CASH
	ReferenceNumber string // QRIS reference, optional
	IdempotencyKey  string // optional, makes the settle replayable
	Cart            *CartRequest
	BillID          uuid.UUID
	PartID          uuid.UUID
}

// SettleResult is the recorded payment and the state it produced.
// Part is set for SPLIT_PART settles. Replayed reports that the idempotency
// key matched an earlier payment, which is returned unchanged.
type SettleResult struct {
	Payment  database.Payment
	Bill     database.Bill
	Part     *database.SplitPart
	Replayed bool
}

// SettlementService takes payments and posts them to the cashier's open
// shift, all within a single transaction per settle.
type SettlementService struct {
	store    SettlementStore
	pool     TxBeginner
	newStore NewSettlementStore
}

// NewSettlementService creates a new SettlementService.
func NewSettlementService(store SettlementStore, pool TxBeginner, newStore NewSettlementStore) *SettlementService {
	return &SettlementService{store: store, pool: pool, newStore: newStore}
}

// Settle records one payment. Settling the same idempotency key twice returns
// the first payment instead of charging again. Cart settles retry on
// bill_number unique violations like bill creation does.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	switch req.Mode {
	case enum.SettleModeCart:
		if req.Cart == nil {
			return nil, ErrCartRequired
		}
		if len(req.Cart.Items) == 0 {
			return nil, ErrEmptyItems
		}
		if _, err := parseDiscount(req.Cart.Discount); err != nil {
			return nil, err
		}
	case enum.SettleModeWholeBill, enum.SettleModeSplitPart:
	default:
		return nil, ErrInvalidSettleMode
	}

	switch req.PaymentMethod {
	case enum.PaymentMethodCash, enum.PaymentMethodQRIS:
	default:
		return nil, ErrInvalidPaymentMethod
	}

	var tendered decimal.Decimal
	if req.PaymentMethod == enum.PaymentMethodCash {
		if req.AmountTendered == "" {
			return nil, ErrInvalidTendered
		}
		t, err := decimal.NewFromString(req.AmountTendered)
		if err != nil || t.IsNegative() {
			return nil, ErrInvalidTendered
		}
		tendered = t
	}

	if req.IdempotencyKey != "" {
		payment, err := s.store.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return s.replay(ctx, payment)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get payment by idempotency key: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxBillNumberRetries; attempt++ {
		result, err := s.settleTx(ctx, req, tendered)
		if err == nil {
			return result, nil
		}
		if req.Mode == enum.SettleModeCart && isUniqueViolation(err, "bills_bill_number_key") {
			lastErr = err
			continue
		}
		if isUniqueViolation(err, "bills_live_table_key") {
			return nil, ErrTableOccupied
		}
		if isUniqueViolation(err, "payments_idempotency_key_key") {
			// A duplicate slipped in between the pre-check and our insert.
			payment, err := s.store.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("get payment by idempotency key: %w", err)
			}
			return s.replay(ctx, payment)
		}
		return nil, err
	}
	return nil, lastErr
}

func (s *SettlementService) settleTx(ctx context.Context, req SettleRequest, tendered decimal.Decimal) (*SettleResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Resolve the payable target ---
	var (
		bill    database.Bill
		session database.SplitSession
		part    *database.SplitPart
		amount  decimal.Decimal
	)
	switch req.Mode {
	case enum.SettleModeCart:
		bill, amount, err = resolveCartTarget(ctx, store, req.Cart, req.CashierID)
	case enum.SettleModeWholeBill:
		bill, amount, err = resolveWholeBillTarget(ctx, store, req.BillID)
	case enum.SettleModeSplitPart:
		bill, session, part, amount, err = resolveSplitPartTarget(ctx, store, req.BillID, req.PartID)
	}
	if err != nil {
		return nil, err
	}

	// --- Compute tendered and change ---
	var change decimal.Decimal
	switch req.PaymentMethod {
	case enum.PaymentMethodCash:
		if tendered.LessThan(amount) {
			return nil, &InsufficientPaymentError{Due: amount, Tendered: tendered}
		}
		change = tendered.Sub(amount)
	case enum.PaymentMethodQRIS:
		tendered = amount
		change = decimal.Zero
	}

	// --- Post to the cashier's open shift ---
	shift, err := store.GetOpenShiftByCashierForUpdate(ctx, req.CashierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenShift
		}
		return nil, fmt.Errorf("get open shift: %w", err)
	}

	var splitPartID pgtype.UUID
	if part != nil {
		splitPartID = pgUUID(part.ID)
	}
	payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
		BillID:          bill.ID,
		SplitPartID:     splitPartID,
		ShiftID:         shift.ID,
		PaymentMethod:   req.PaymentMethod,
		Amount:          decimalToNumeric(amount),
		AmountTendered:  decimalToNumeric(tendered),
		ChangeAmount:    decimalToNumeric(change),
		ReferenceNumber: textOrNull(req.ReferenceNumber),
		IdempotencyKey:  textOrNull(req.IdempotencyKey),
		ProcessedBy:     req.CashierID,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	// --- State transitions ---
	switch req.Mode {
	case enum.SettleModeCart, enum.SettleModeWholeBill:
		bill, err = store.SettleBill(ctx, database.SettleBillParams{
			ID:            bill.ID,
			PaymentMethod: textOrNull(req.PaymentMethod),
		})
		if err != nil {
			return nil, fmt.Errorf("settle bill: %w", err)
		}
	case enum.SettleModeSplitPart:
		paid, err := store.MarkSplitPartPaid(ctx, part.ID)
		if err != nil {
			return nil, fmt.Errorf("mark split part paid: %w", err)
		}
		part = &paid

		unpaid, err := store.CountUnpaidSplitParts(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("count unpaid split parts: %w", err)
		}
		if unpaid == 0 {
			if _, err := store.CloseSplitSession(ctx, database.CloseSplitSessionParams{
				ID:     session.ID,
				Status: enum.SplitSessionStatusSettled,
			}); err != nil {
				return nil, fmt.Errorf("close split session: %w", err)
			}
			// Parts may have paid with different methods, so the bill
			// itself carries none.
			bill, err = store.SettleBill(ctx, database.SettleBillParams{
				ID:            bill.ID,
				PaymentMethod: pgtype.Text{},
			})
			if err != nil {
				return nil, fmt.Errorf("settle bill: %w", err)
			}
		}
	}

	cashAmount := decimal.Zero
	noncashAmount := decimal.Zero
	if req.PaymentMethod == enum.PaymentMethodCash {
		cashAmount = amount
	} else {
		noncashAmount = amount
	}
	if _, err := store.AddShiftRevenue(ctx, database.AddShiftRevenueParams{
		ID:            shift.ID,
		Amount:        decimalToNumeric(amount),
		CashAmount:    decimalToNumeric(cashAmount),
		NoncashAmount: decimalToNumeric(noncashAmount),
	}); err != nil {
		return nil, fmt.Errorf("add shift revenue: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &SettleResult{Payment: payment, Bill: bill, Part: part}, nil
}

// replay rebuilds the result of an already-recorded payment.
func (s *SettlementService) replay(ctx context.Context, payment database.Payment) (*SettleResult, error) {
	bill, err := s.store.GetBill(ctx, payment.BillID)
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	result := &SettleResult{Payment: payment, Bill: bill, Replayed: true}
	if payment.SplitPartID.Valid {
		part, err := s.store.GetSplitPart(ctx, uuid.UUID(payment.SplitPartID.Bytes))
		if err != nil {
			return nil, fmt.Errorf("get split part: %w", err)
		}
		result.Part = &part
	}
	return result, nil
}

// --- Target resolution ---

func resolveCartTarget(ctx context.Context, store SettlementStore, cart *CartRequest, createdBy uuid.UUID) (database.Bill, decimal.Decimal, error) {
	if cart.TableNumber != "" {
		_, err := store.GetLiveBillByTableForUpdate(ctx, cart.TableNumber)
		if err == nil {
			return database.Bill{}, decimal.Zero, ErrTableOccupied
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return database.Bill{}, decimal.Zero, fmt.Errorf("get live bill for table: %w", err)
		}
	}

	prepared, subtotal, err := prepareBillItems(ctx, store, cart.Items)
	if err != nil {
		return database.Bill{}, decimal.Zero, err
	}
	discount, err := parseDiscount(cart.Discount)
	if err != nil {
		return database.Bill{}, decimal.Zero, err
	}
	if discount.GreaterThan(subtotal) {
		return database.Bill{}, decimal.Zero, ErrInvalidDiscount
	}

	bill, _, err := insertFreshBill(ctx, store, freshBillArgs{
		createdBy:    createdBy,
		customerName: cart.CustomerName,
		tableNumber:  cart.TableNumber,
		prepared:     prepared,
		subtotal:     subtotal,
		discount:     discount,
	})
	if err != nil {
		return database.Bill{}, decimal.Zero, err
	}
	return bill, subtotal.Sub(discount), nil
}

func resolveWholeBillTarget(ctx context.Context, store SettlementStore, billID uuid.UUID) (database.Bill, decimal.Decimal, error) {
	bill, err := store.GetBillForUpdate(ctx, billID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Bill{}, decimal.Zero, ErrBillNotFound
		}
		return database.Bill{}, decimal.Zero, fmt.Errorf("get bill: %w", err)
	}
	switch bill.Status {
	case enum.BillStatusSettled:
		return database.Bill{}, decimal.Zero, ErrBillSettled
	case enum.BillStatusCancelled:
		return database.Bill{}, decimal.Zero, ErrBillCancelled
	}
	if err := ensureNoActiveSplit(ctx, store, bill.ID); err != nil {
		return database.Bill{}, decimal.Zero, err
	}
	return bill, numericToDecimal(bill.Total), nil
}

func resolveSplitPartTarget(ctx context.Context, store SettlementStore, billID, partID uuid.UUID) (database.Bill, database.SplitSession, *database.SplitPart, decimal.Decimal, error) {
	fail := func(err error) (database.Bill, database.SplitSession, *database.SplitPart, decimal.Decimal, error) {
		return database.Bill{}, database.SplitSession{}, nil, decimal.Zero, err
	}

	session, bill, err := lockBillWithActiveSession(ctx, store, billID)
	if err != nil {
		return fail(err)
	}

	part, err := sessionPart(ctx, store, session.ID, partID)
	if err != nil {
		return fail(err)
	}
	if part.Paid {
		return fail(ErrPartPaid)
	}

	allocations, err := store.ListSplitAllocationsByPart(ctx, part.ID)
	if err != nil {
		return fail(fmt.Errorf("list split allocations: %w", err))
	}
	if len(allocations) == 0 {
		return fail(ErrEmptyPart)
	}

	items, err := store.ListBillItemsByBill(ctx, bill.ID)
	if err != nil {
		return fail(fmt.Errorf("list bill items: %w", err))
	}
	prices := make(map[uuid.UUID]decimal.Decimal, len(items))
	for _, item := range items {
		prices[item.ID] = numericToDecimal(item.UnitPrice)
	}

	amount := decimal.Zero
	for _, a := range allocations {
		price, ok := prices[a.BillItemID]
		if !ok {
			return fail(fmt.Errorf("allocation references unknown bill item %s", a.BillItemID))
		}
		amount = amount.Add(price.Mul(decimal.NewFromInt32(a.Quantity)))
	}

	// The last unpaid part may only settle once the whole bill is spoken
	// for, so nothing silently goes unpaid.
	unpaid, err := store.CountUnpaidSplitParts(ctx, session.ID)
	if err != nil {
		return fail(fmt.Errorf("count unpaid split parts: %w", err))
	}
	if unpaid == 1 {
		sessionAllocations, err := store.ListSplitAllocationsBySession(ctx, session.ID)
		if err != nil {
			return fail(fmt.Errorf("list split allocations: %w", err))
		}
		covered := make(map[uuid.UUID]int32, len(items))
		for _, a := range sessionAllocations {
			covered[a.BillItemID] += a.Quantity
		}
		for _, item := range items {
			if covered[item.ID] != item.Quantity {
				return fail(ErrUnallocatedRemainder)
			}
		}
	}

	return bill, session, &part, amount, nil
}
