package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/dapurlaras/pos-api/internal/database"
	"github.com/dapurlaras/pos-api/internal/enum"
)

// Errors returned by the shift service.
var (
	ErrShiftNotFound         = errors.New("shift not found")
	ErrShiftExists           = errors.New("cashier already has an open shift")
	ErrShiftClosed           = errors.New("shift is already closed")
	ErrShiftNotOwned         = errors.New("shift belongs to another cashier")
	ErrInvalidInitialCash    = errors.New("initial_cash must be a number >= 0")
	ErrInvalidMovementAmount = errors.New("amount must be a number > 0")
	ErrInvalidCountedCash    = errors.New("counted_cash must be a number >= 0")
	ErrInvalidDirection      = errors.New("invalid movement direction")
	ErrInvalidCategory       = errors.New("invalid movement category")
	ErrInvalidShiftStatus    = errors.New("invalid shift status filter")
	ErrDescriptionRequired   = errors.New("description is required")
)

// ShiftStore defines the DB methods needed by the shift service.
// Satisfied by *database.Queries (and its WithTx variant).
type ShiftStore interface {
	CreateShift(ctx context.Context, arg database.CreateShiftParams) (database.Shift, error)
	GetShift(ctx context.Context, id uuid.UUID) (database.Shift, error)
	GetShiftForUpdate(ctx context.Context, id uuid.UUID) (database.Shift, error)
	GetOpenShiftByCashier(ctx context.Context, cashierID uuid.UUID) (database.Shift, error)
	ListShifts(ctx context.Context, arg database.ListShiftsParams) ([]database.Shift, error)
	CloseShift(ctx context.Context, arg database.CloseShiftParams) (database.Shift, error)
	CreateCashMovement(ctx context.Context, arg database.CreateCashMovementParams) (database.CashMovement, error)
	ListCashMovementsByShift(ctx context.Context, shiftID uuid.UUID) ([]database.CashMovement, error)
	SumCashMovementsByShift(ctx context.Context, shiftID uuid.UUID) (pgtype.Numeric, error)
	SumPaymentsByShiftAndMethod(ctx context.Context, arg database.SumPaymentsByShiftAndMethodParams) (pgtype.Numeric, error)
}

// NewShiftStore creates a ShiftStore from a DBTX (pool or tx).
type NewShiftStore func(db database.DBTX) ShiftStore

// PostMovementRequest records a manual drawer movement on an open shift.
type PostMovementRequest struct {
	ShiftID     uuid.UUID
	CashierID   uuid.UUID
	Direction   string
	Amount      string
	Description string
	Category    string
}

// CloseShiftRequest reconciles and closes an open shift. CountedCash is what
// the cashier physically counted in the drawer.
type CloseShiftRequest struct {
	ShiftID     uuid.UUID
	CashierID   uuid.UUID
	CountedCash string
}

// ShiftDetail is a shift with its movement ledger.
type ShiftDetail struct {
	Shift     database.Shift
	Movements []database.CashMovement
}

// CloseShiftResult carries the closed shift and any reconciliation warnings.
// Warnings never block the close.
type CloseShiftResult struct {
	Shift    database.Shift
	Warnings []string
}

// ShiftService opens, reconciles and closes cashier shifts and keeps the
// append-only drawer movement ledger.
type ShiftService struct {
	store    ShiftStore
	pool     TxBeginner
	newStore NewShiftStore
}

// NewShiftService creates a new ShiftService.
func NewShiftService(store ShiftStore, pool TxBeginner, newStore NewShiftStore) *ShiftService {
	return &ShiftService{store: store, pool: pool, newStore: newStore}
}

// OpenShift starts a shift for the cashier with the counted opening float.
// A cashier can hold at most one open shift.
func (s *ShiftService) OpenShift(ctx context.Context, cashierID uuid.UUID, initialCash string) (database.Shift, error) {
	initial, err := decimal.NewFromString(initialCash)
	if err != nil || initial.IsNegative() {
		return database.Shift{}, ErrInvalidInitialCash
	}

	shift, err := s.store.CreateShift(ctx, database.CreateShiftParams{
		CashierID:   cashierID,
		InitialCash: decimalToNumeric(initial),
	})
	if err != nil {
		if isUniqueViolation(err, "shifts_cashier_open_key") {
			return database.Shift{}, ErrShiftExists
		}
		return database.Shift{}, fmt.Errorf("create shift: %w", err)
	}
	return shift, nil
}

// ActiveShift returns the caller's open shift with its movement ledger.
func (s *ShiftService) ActiveShift(ctx context.Context, cashierID uuid.UUID) (*ShiftDetail, error) {
	shift, err := s.store.GetOpenShiftByCashier(ctx, cashierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, fmt.Errorf("get open shift: %w", err)
	}
	return s.detail(ctx, shift)
}

// GetShiftDetail returns one shift with its movement ledger.
func (s *ShiftService) GetShiftDetail(ctx context.Context, id uuid.UUID) (*ShiftDetail, error) {
	shift, err := s.store.GetShift(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrShiftNotFound
		}
		return nil, fmt.Errorf("get shift: %w", err)
	}
	return s.detail(ctx, shift)
}

func (s *ShiftService) detail(ctx context.Context, shift database.Shift) (*ShiftDetail, error) {
	movements, err := s.store.ListCashMovementsByShift(ctx, shift.ID)
	if err != nil {
		return nil, fmt.Errorf("list cash movements: %w", err)
	}
	return &ShiftDetail{Shift: shift, Movements: movements}, nil
}

// ListShifts returns shifts newest first, optionally filtered by status.
func (s *ShiftService) ListShifts(ctx context.Context, status string, limit, offset int32) ([]database.Shift, error) {
	var statusFilter pgtype.Text
	switch status {
	case "":
	case enum.ShiftStatusOpen, enum.ShiftStatusClosed:
		statusFilter = pgtype.Text{String: status, Valid: true}
	default:
		return nil, ErrInvalidShiftStatus
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	shifts, err := s.store.ListShifts(ctx, database.ListShiftsParams{
		Status: statusFilter,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	return shifts, nil
}

// PostCashMovement appends one drawer movement to the caller's open shift.
// Movements are immutable once written.
func (s *ShiftService) PostCashMovement(ctx context.Context, req PostMovementRequest) (database.CashMovement, error) {
	switch req.Direction {
	case enum.MovementDirectionIn, enum.MovementDirectionOut:
	default:
		return database.CashMovement{}, ErrInvalidDirection
	}
	switch req.Category {
	case enum.MovementCategoryDeposit, enum.MovementCategoryExpense, enum.MovementCategoryOther:
	default:
		return database.CashMovement{}, ErrInvalidCategory
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return database.CashMovement{}, ErrInvalidMovementAmount
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return database.CashMovement{}, ErrDescriptionRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.CashMovement{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	shift, err := lockOwnedShift(ctx, store, req.ShiftID, req.CashierID)
	if err != nil {
		return database.CashMovement{}, err
	}

	movement, err := store.CreateCashMovement(ctx, database.CreateCashMovementParams{
		ShiftID:     shift.ID,
		CashierID:   req.CashierID,
		Direction:   req.Direction,
		Amount:      decimalToNumeric(amount),
		Description: description,
		Category:    req.Category,
	})
	if err != nil {
		return database.CashMovement{}, fmt.Errorf("create cash movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.CashMovement{}, fmt.Errorf("commit tx: %w", err)
	}
	return movement, nil
}

// CloseShift reconciles the drawer and closes the shift. The expected drawer
// content is recomputed from the movement and payment tables rather than the
// shift row's counters, then compared against what the cashier counted.
func (s *ShiftService) CloseShift(ctx context.Context, req CloseShiftRequest) (*CloseShiftResult, error) {
	counted, err := decimal.NewFromString(req.CountedCash)
	if err != nil || counted.IsNegative() {
		return nil, ErrInvalidCountedCash
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	shift, err := lockOwnedShift(ctx, store, req.ShiftID, req.CashierID)
	if err != nil {
		return nil, err
	}

	movementNet, err := store.SumCashMovementsByShift(ctx, shift.ID)
	if err != nil {
		return nil, fmt.Errorf("sum cash movements: %w", err)
	}
	cashRevenue, err := store.SumPaymentsByShiftAndMethod(ctx, database.SumPaymentsByShiftAndMethodParams{
		ShiftID:       shift.ID,
		PaymentMethod: enum.PaymentMethodCash,
	})
	if err != nil {
		return nil, fmt.Errorf("sum cash payments: %w", err)
	}

	systemCash := numericToDecimal(shift.InitialCash).
		Add(numericToDecimal(movementNet)).
		Add(numericToDecimal(cashRevenue))
	difference := counted.Sub(systemCash)

	closed, err := store.CloseShift(ctx, database.CloseShiftParams{
		ID:             shift.ID,
		FinalCash:      decimalToNumeric(counted),
		SystemCash:     decimalToNumeric(systemCash),
		CashDifference: decimalToNumeric(difference),
	})
	if err != nil {
		return nil, fmt.Errorf("close shift: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	result := &CloseShiftResult{Shift: closed}
	if systemCash.IsNegative() {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("cash-out movements overdraw the drawer: expected cash is %s", systemCash.StringFixed(2)))
	}
	return result, nil
}

// lockOwnedShift locks the shift row and checks it is open and belongs to
// the caller.
func lockOwnedShift(ctx context.Context, store ShiftStore, shiftID, cashierID uuid.UUID) (database.Shift, error) {
	shift, err := store.GetShiftForUpdate(ctx, shiftID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Shift{}, ErrShiftNotFound
		}
		return database.Shift{}, fmt.Errorf("get shift: %w", err)
	}
	if shift.Status == enum.ShiftStatusClosed {
		return database.Shift{}, ErrShiftClosed
	}
	if shift.CashierID != cashierID {
		return database.Shift{}, ErrShiftNotOwned
	}
	return shift, nil
}
