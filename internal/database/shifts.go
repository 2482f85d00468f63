package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const shiftColumns = `id, cashier_id, status, initial_cash, final_cash, system_cash, cash_difference, total_orders, total_revenue, cash_revenue, noncash_revenue, opened_at, closed_at`

func scanShift(row pgx.Row) (Shift, error) {
	var s Shift
	err := row.Scan(
		&s.ID,
		&s.CashierID,
		&s.Status,
		&s.InitialCash,
		&s.FinalCash,
		&s.SystemCash,
		&s.CashDifference,
		&s.TotalOrders,
		&s.TotalRevenue,
		&s.CashRevenue,
		&s.NoncashRevenue,
		&s.OpenedAt,
		&s.ClosedAt,
	)
	return s, err
}

const createShift = `
INSERT INTO shifts (cashier_id, initial_cash)
VALUES ($1, $2)
RETURNING ` + shiftColumns

type CreateShiftParams struct {
	CashierID   uuid.UUID
	InitialCash pgtype.Numeric
}

func (q *Queries) CreateShift(ctx context.Context, arg CreateShiftParams) (Shift, error) {
	return scanShift(q.db.QueryRow(ctx, createShift, arg.CashierID, arg.InitialCash))
}

const getShift = `
SELECT ` + shiftColumns + `
FROM shifts
WHERE id = $1
`

func (q *Queries) GetShift(ctx context.Context, id uuid.UUID) (Shift, error) {
	return scanShift(q.db.QueryRow(ctx, getShift, id))
}

const getShiftForUpdate = `
SELECT ` + shiftColumns + `
FROM shifts
WHERE id = $1
FOR NO KEY UPDATE
`

func (q *Queries) GetShiftForUpdate(ctx context.Context, id uuid.UUID) (Shift, error) {
	return scanShift(q.db.QueryRow(ctx, getShiftForUpdate, id))
}

const getOpenShiftByCashier = `
SELECT ` + shiftColumns + `
FROM shifts
WHERE cashier_id = $1 AND status = 'OPEN'
`

func (q *Queries) GetOpenShiftByCashier(ctx context.Context, cashierID uuid.UUID) (Shift, error) {
	return scanShift(q.db.QueryRow(ctx, getOpenShiftByCashier, cashierID))
}

const getOpenShiftByCashierForUpdate = `
SELECT ` + shiftColumns + `
FROM shifts
WHERE cashier_id = $1 AND status = 'OPEN'
FOR NO KEY UPDATE
`

// GetOpenShiftByCashierForUpdate locks the open shift row. Settlements and
// movements post against it under this lock so a concurrent closeShift cannot
// slip between validation and write.
func (q *Queries) GetOpenShiftByCashierForUpdate(ctx context.Context, cashierID uuid.UUID) (Shift, error) {
	return scanShift(q.db.QueryRow(ctx, getOpenShiftByCashierForUpdate, cashierID))
}

const addShiftRevenue = `
UPDATE shifts
SET total_orders = total_orders + 1,
    total_revenue = total_revenue + $2,
    cash_revenue = cash_revenue + $3,
    noncash_revenue = noncash_revenue + $4
WHERE id = $1
RETURNING ` + shiftColumns

type AddShiftRevenueParams struct {
	ID            uuid.UUID
	Amount        pgtype.Numeric
	CashAmount    pgtype.Numeric
	NoncashAmount pgtype.Numeric
}

func (q *Queries) AddShiftRevenue(ctx context.Context, arg AddShiftRevenueParams) (Shift, error) {
	return scanShift(q.db.QueryRow(ctx, addShiftRevenue,
		arg.ID,
		arg.Amount,
		arg.CashAmount,
		arg.NoncashAmount,
	))
}

const closeShift = `
UPDATE shifts
SET status = 'CLOSED', final_cash = $2, system_cash = $3, cash_difference = $4, closed_at = now()
WHERE id = $1
RETURNING ` + shiftColumns

type CloseShiftParams struct {
	ID             uuid.UUID
	FinalCash      pgtype.Numeric
	SystemCash     pgtype.Numeric
	CashDifference pgtype.Numeric
}

func (q *Queries) CloseShift(ctx context.Context, arg CloseShiftParams) (Shift, error) {
	return scanShift(q.db.QueryRow(ctx, closeShift,
		arg.ID,
		arg.FinalCash,
		arg.SystemCash,
		arg.CashDifference,
	))
}

const listShifts = `
SELECT ` + shiftColumns + `
FROM shifts
WHERE ($1::text IS NULL OR status = $1)
ORDER BY opened_at DESC
LIMIT $2 OFFSET $3
`

type ListShiftsParams struct {
	Status pgtype.Text
	Limit  int32
	Offset int32
}

func (q *Queries) ListShifts(ctx context.Context, arg ListShiftsParams) ([]Shift, error) {
	rows, err := q.db.Query(ctx, listShifts, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createCashMovement = `
INSERT INTO cash_movements (shift_id, cashier_id, direction, amount, description, category)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, shift_id, cashier_id, direction, amount, description, category, created_at
`

type CreateCashMovementParams struct {
	ShiftID     uuid.UUID
	CashierID   uuid.UUID
	Direction   string
	Amount      pgtype.Numeric
	Description string
	Category    string
}

func (q *Queries) CreateCashMovement(ctx context.Context, arg CreateCashMovementParams) (CashMovement, error) {
	row := q.db.QueryRow(ctx, createCashMovement,
		arg.ShiftID,
		arg.CashierID,
		arg.Direction,
		arg.Amount,
		arg.Description,
		arg.Category,
	)
	return scanCashMovement(row)
}

func scanCashMovement(row pgx.Row) (CashMovement, error) {
	var m CashMovement
	err := row.Scan(
		&m.ID,
		&m.ShiftID,
		&m.CashierID,
		&m.Direction,
		&m.Amount,
		&m.Description,
		&m.Category,
		&m.CreatedAt,
	)
	return m, err
}

const listCashMovementsByShift = `
SELECT id, shift_id, cashier_id, direction, amount, description, category, created_at
FROM cash_movements
WHERE shift_id = $1
ORDER BY created_at
`

func (q *Queries) ListCashMovementsByShift(ctx context.Context, shiftID uuid.UUID) ([]CashMovement, error) {
	rows, err := q.db.Query(ctx, listCashMovementsByShift, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CashMovement
	for rows.Next() {
		m, err := scanCashMovement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumCashMovementsByShift = `
SELECT COALESCE(SUM(CASE WHEN direction = 'IN' THEN amount ELSE -amount END), 0)
FROM cash_movements
WHERE shift_id = $1
`

// SumCashMovementsByShift returns the net drawer effect of all movements,
// deposits positive and payouts negative.
func (q *Queries) SumCashMovementsByShift(ctx context.Context, shiftID uuid.UUID) (pgtype.Numeric, error) {
	row := q.db.QueryRow(ctx, sumCashMovementsByShift, shiftID)
	var sum pgtype.Numeric
	err := row.Scan(&sum)
	return sum, err
}
