package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
)

const maxBillNumberRetries = 3

// Errors returned by the bill service.
var (
	ErrEmptyItems         = errors.New("items are required")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrInvalidMenuItemID  = errors.New("invalid menu_item_id")
	ErrMenuItemNotFound   = errors.New("menu item not found")
	ErrMenuItemInactive   = errors.New("menu item is not available")
	ErrInvalidDiscount    = errors.New("discount must be >= 0 and not exceed the subtotal")
	ErrInvalidBillMode    = errors.New("invalid mode")
	ErrTableRequired      = errors.New("table_number is required for replace mode")
	ErrTableOccupied      = errors.New("table already has a live bill")
	ErrBillNotFound       = errors.New("bill not found")
	ErrBillSettled        = errors.New("bill is already settled")
	ErrBillCancelled      = errors.New("bill is cancelled")
	ErrBillPaid           = errors.New("bill is already paid")
	ErrSplitSessionActive = errors.New("bill has an active split session")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BillStore defines the DB methods needed to create and edit bills.
// Satisfied by *database.Queries (and its WithTx variant).
type BillStore interface {
	GetNextBillNumber(ctx context.Context) (int32, error)
	GetMenuItemForBill(ctx context.Context, id uuid.UUID) (database.GetMenuItemForBillRow, error)
	CreateBill(ctx context.Context, arg database.CreateBillParams) (database.Bill, error)
	CreateBillItem(ctx context.Context, arg database.CreateBillItemParams) (database.BillItem, error)
	GetBillForUpdate(ctx context.Context, id uuid.UUID) (database.Bill, error)
	GetLiveBillByTableForUpdate(ctx context.Context, tableNumber string) (database.Bill, error)
	GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
	ListBillItemsByBill(ctx context.Context, billID uuid.UUID) ([]database.BillItem, error)
	DeleteBillItemsByBill(ctx context.Context, billID uuid.UUID) error
	UpdateBillTotals(ctx context.Context, arg database.UpdateBillTotalsParams) (database.Bill, error)
	UpdateBillStatus(ctx context.Context, arg database.UpdateBillStatusParams) (database.Bill, error)
}

// NewBillStore creates a BillStore from a DBTX (pool or tx).
type NewBillStore func(db database.DBTX) BillStore

// CreateBillRequest is the validated input for opening a bill.
type CreateBillRequest struct {
	CreatedBy    uuid.UUID
	Mode         string // CREATE or REPLACE
	CustomerName string
	TableNumber  string
	Discount     string // decimal, optional
	Items        []BillItemRequest
}

// BillItemRequest is a single line on the bill.
type BillItemRequest struct {
	MenuItemID string
	Quantity   int32
	Note       string
}

// AddItemsRequest appends lines to an existing live bill.
type AddItemsRequest struct {
	BillID uuid.UUID
	Items  []BillItemRequest
}

// BillDetail is a bill with its line items.
type BillDetail struct {
	Bill  database.Bill
	Items []database.BillItem
}

// BillService handles bill lifecycle business logic.
type BillService struct {
	pool     TxBeginner
	newStore NewBillStore
}

// NewBillService creates a new BillService.
func NewBillService(pool TxBeginner, newStore NewBillStore) *BillService {
	return &BillService{pool: pool, newStore: newStore}
}

// preparedItem holds a snapshot-priced line ready to insert.
type preparedItem struct {
	params database.CreateBillItemParams
}

// CreateBill opens a bill, or replaces the item list of the table's live bill
// when mode is REPLACE. Retries up to maxBillNumberRetries times on
// bill_number unique violations (concurrent transactions read the same MAX).
func (s *BillService) CreateBill(ctx context.Context, req CreateBillRequest) (*BillDetail, error) {
	if err := validateBillMode(req.Mode); err != nil {
		return nil, err
	}
	if req.Mode == enum.BillModeReplace && req.TableNumber == "" {
		return nil, ErrTableRequired
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	discount, err := parseDiscount(req.Discount)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxBillNumberRetries; attempt++ {
		result, err := s.createBillTx(ctx, req, discount)
		if err == nil {
			return result, nil
		}
		if isUniqueViolation(err, "bills_bill_number_key") {
			lastErr = err
			continue
		}
		if isUniqueViolation(err, "bills_live_table_key") {
			return nil, ErrTableOccupied
		}
		return nil, err
	}
	return nil, lastErr
}

func (s *BillService) createBillTx(ctx context.Context, req CreateBillRequest, discount decimal.Decimal) (*BillDetail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Find the table's live bill, if any ---
	var existing *database.Bill
	if req.TableNumber != "" {
		bill, err := store.GetLiveBillByTableForUpdate(ctx, req.TableNumber)
		switch {
		case err == nil:
			if req.Mode == enum.BillModeCreate {
				return nil, ErrTableOccupied
			}
			existing = &bill
		case errors.Is(err, pgx.ErrNoRows):
			// table is free, fall through to a fresh bill
		default:
			return nil, fmt.Errorf("get live bill for table: %w", err)
		}
	}

	// --- Snapshot prices and compute totals ---
	prepared, subtotal, err := prepareBillItems(ctx, store, req.Items)
	if err != nil {
		return nil, err
	}
	if discount.GreaterThan(subtotal) {
		return nil, ErrInvalidDiscount
	}
	total := subtotal.Sub(discount)

	var (
		bill  database.Bill
		items []database.BillItem
	)
	if existing != nil {
		// --- Replace the live bill's item list ---
		if err := billEditable(*existing); err != nil {
			return nil, err
		}
		if err := ensureNoActiveSplit(ctx, store, existing.ID); err != nil {
			return nil, err
		}
		if err := store.DeleteBillItemsByBill(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("delete bill items: %w", err)
		}
		bill, err = store.UpdateBillTotals(ctx, database.UpdateBillTotalsParams{
			ID:       existing.ID,
			Subtotal: decimalToNumeric(subtotal),
			Discount: decimalToNumeric(discount),
			Total:    decimalToNumeric(total),
		})
		if err != nil {
			return nil, fmt.Errorf("update bill totals: %w", err)
		}
		items, err = insertPreparedItems(ctx, store, bill.ID, prepared)
		if err != nil {
			return nil, err
		}
	} else {
		bill, items, err = insertFreshBill(ctx, store, freshBillArgs{
			createdBy:    req.CreatedBy,
			customerName: req.CustomerName,
			tableNumber:  req.TableNumber,
			prepared:     prepared,
			subtotal:     subtotal,
			discount:     discount,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &BillDetail{Bill: bill, Items: items}, nil
}

// AddItems appends lines to a live unpaid bill and recomputes its totals.
func (s *BillService) AddItems(ctx context.Context, req AddItemsRequest) (*BillDetail, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

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
	if err := ensureNoActiveSplit(ctx, store, bill.ID); err != nil {
		return nil, err
	}

	prepared, _, err := prepareBillItems(ctx, store, req.Items)
	if err != nil {
		return nil, err
	}
	for _, pi := range prepared {
		pi.params.BillID = bill.ID
		if _, err := store.CreateBillItem(ctx, pi.params); err != nil {
			return nil, fmt.Errorf("create bill item: %w", err)
		}
	}

	items, err := store.ListBillItemsByBill(ctx, bill.ID)
	if err != nil {
		return nil, fmt.Errorf("list bill items: %w", err)
	}
	subtotal := sumBillItems(items)
	discount := numericToDecimal(bill.Discount)
	bill, err = store.UpdateBillTotals(ctx, database.UpdateBillTotalsParams{
		ID:       bill.ID,
		Subtotal: decimalToNumeric(subtotal),
		Discount: decimalToNumeric(discount),
		Total:    decimalToNumeric(subtotal.Sub(discount)),
	})
	if err != nil {
		return nil, fmt.Errorf("update bill totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &BillDetail{Bill: bill, Items: items}, nil
}

// Submit moves an open bill to SUBMITTED (kitchen-visible). Submitting an
// already submitted bill is a no-op.
func (s *BillService) Submit(ctx context.Context, billID uuid.UUID) (database.Bill, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Bill{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	bill, err := store.GetBillForUpdate(ctx, billID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Bill{}, ErrBillNotFound
		}
		return database.Bill{}, fmt.Errorf("get bill: %w", err)
	}

	switch bill.Status {
	case enum.BillStatusSubmitted:
		return bill, nil
	case enum.BillStatusSettled:
		return database.Bill{}, ErrBillSettled
	case enum.BillStatusCancelled:
		return database.Bill{}, ErrBillCancelled
	}

	bill, err = store.UpdateBillStatus(ctx, database.UpdateBillStatusParams{
		ID:     billID,
		Status: enum.BillStatusSubmitted,
	})
	if err != nil {
		return database.Bill{}, fmt.Errorf("update bill status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Bill{}, fmt.Errorf("commit tx: %w", err)
	}
	return bill, nil
}

// Cancel moves a live bill to CANCELLED. Settled bills cannot be cancelled,
// and a bill with an active split session must have the session cancelled
// first.
func (s *BillService) Cancel(ctx context.Context, billID uuid.UUID) (database.Bill, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Bill{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	bill, err := store.GetBillForUpdate(ctx, billID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Bill{}, ErrBillNotFound
		}
		return database.Bill{}, fmt.Errorf("get bill: %w", err)
	}

	switch bill.Status {
	case enum.BillStatusSettled:
		return database.Bill{}, ErrBillSettled
	case enum.BillStatusCancelled:
		return database.Bill{}, ErrBillCancelled
	}
	if err := ensureNoActiveSplit(ctx, store, bill.ID); err != nil {
		return database.Bill{}, err
	}

	bill, err = store.UpdateBillStatus(ctx, database.UpdateBillStatusParams{
		ID:     billID,
		Status: enum.BillStatusCancelled,
	})
	if err != nil {
		return database.Bill{}, fmt.Errorf("update bill status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Bill{}, fmt.Errorf("commit tx: %w", err)
	}
	return bill, nil
}

// --- Helpers shared across the bill, approval, split, and settlement flows ---

// menuReader is the slice of the store needed to snapshot prices.
type menuReader interface {
	GetMenuItemForBill(ctx context.Context, id uuid.UUID) (database.GetMenuItemForBillRow, error)
}

// prepareBillItems validates the requested lines, snapshots menu prices, and
// returns the insert params plus the resulting subtotal.
func prepareBillItems(ctx context.Context, store menuReader, items []BillItemRequest) ([]preparedItem, decimal.Decimal, error) {
	subtotal := decimal.Zero
	prepared := make([]preparedItem, 0, len(items))

	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
		menuItemID, err := uuid.Parse(item.MenuItemID)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("item[%d]: %w", i, ErrInvalidMenuItemID)
		}
		menuItem, err := store.GetMenuItemForBill(ctx, menuItemID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, decimal.Zero, fmt.Errorf("item[%d]: %w", i, ErrMenuItemNotFound)
			}
			return nil, decimal.Zero, fmt.Errorf("item[%d]: get menu item: %w", i, err)
		}
		if !menuItem.IsActive {
			return nil, decimal.Zero, fmt.Errorf("item[%d]: %w", i, ErrMenuItemInactive)
		}

		unitPrice := numericToDecimal(menuItem.Price)
		subtotal = subtotal.Add(unitPrice.Mul(decimal.NewFromInt32(item.Quantity)))

		prepared = append(prepared, preparedItem{
			params: database.CreateBillItemParams{
				MenuItemID: menuItemID,
				Name:       menuItem.Name,
				UnitPrice:  decimalToNumeric(unitPrice),
				Quantity:   item.Quantity,
				Note:       textOrNull(item.Note),
			},
		})
	}
	return prepared, subtotal, nil
}

// billInserter is the slice of the store needed to write a fresh bill.
type billInserter interface {
	GetNextBillNumber(ctx context.Context) (int32, error)
	CreateBill(ctx context.Context, arg database.CreateBillParams) (database.Bill, error)
	CreateBillItem(ctx context.Context, arg database.CreateBillItemParams) (database.BillItem, error)
}

type freshBillArgs struct {
	createdBy    uuid.UUID
	customerName string
	tableNumber  string
	prepared     []preparedItem
	subtotal     decimal.Decimal
	discount     decimal.Decimal
}

// insertFreshBill writes a new numbered bill row with its prepared items.
func insertFreshBill(ctx context.Context, store billInserter, arg freshBillArgs) (database.Bill, []database.BillItem, error) {
	nextNum, err := store.GetNextBillNumber(ctx)
	if err != nil {
		return database.Bill{}, nil, fmt.Errorf("get next bill number: %w", err)
	}
	bill, err := store.CreateBill(ctx, database.CreateBillParams{
		BillNumber:   fmt.Sprintf("DL-%04d", nextNum),
		CustomerName: textOrNull(arg.customerName),
		TableNumber:  textOrNull(arg.tableNumber),
		Subtotal:     decimalToNumeric(arg.subtotal),
		Discount:     decimalToNumeric(arg.discount),
		Total:        decimalToNumeric(arg.subtotal.Sub(arg.discount)),
		CreatedBy:    arg.createdBy,
	})
	if err != nil {
		return database.Bill{}, nil, fmt.Errorf("create bill: %w", err)
	}
	items, err := insertPreparedItems(ctx, store, bill.ID, arg.prepared)
	if err != nil {
		return database.Bill{}, nil, err
	}
	return bill, items, nil
}

type itemInserter interface {
	CreateBillItem(ctx context.Context, arg database.CreateBillItemParams) (database.BillItem, error)
}

func insertPreparedItems(ctx context.Context, store itemInserter, billID uuid.UUID, prepared []preparedItem) ([]database.BillItem, error) {
	items := make([]database.BillItem, 0, len(prepared))
	for _, pi := range prepared {
		pi.params.BillID = billID
		item, err := store.CreateBillItem(ctx, pi.params)
		if err != nil {
			return nil, fmt.Errorf("create bill item: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// billEditable reports whether items on the bill may still change.
func billEditable(b database.Bill) error {
	switch b.Status {
	case enum.BillStatusSettled:
		return ErrBillSettled
	case enum.BillStatusCancelled:
		return ErrBillCancelled
	}
	if b.PaymentStatus == enum.PaymentStatusPaid {
		return ErrBillPaid
	}
	return nil
}

// splitChecker is the slice of the store needed to detect an active split.
type splitChecker interface {
	GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (database.SplitSession, error)
}

func ensureNoActiveSplit(ctx context.Context, store splitChecker, billID uuid.UUID) error {
	_, err := store.GetActiveSplitSessionByBill(ctx, billID)
	if err == nil {
		return ErrSplitSessionActive
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return fmt.Errorf("get active split session: %w", err)
}

func sumBillItems(items []database.BillItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(numericToDecimal(item.UnitPrice).Mul(decimal.NewFromInt32(item.Quantity)))
	}
	return sum
}

func parseDiscount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, ErrInvalidDiscount
	}
	return d, nil
}

func validateBillMode(s string) error {
	switch s {
	case enum.BillModeCreate, enum.BillModeReplace:
		return nil
	}
	return ErrInvalidBillMode
}

// isUniqueViolation reports whether err is a Postgres unique violation on the
// named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
