package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const billColumns = `id, bill_number, customer_name, table_number, status, payment_status, payment_method, subtotal, discount, total, created_by, created_at, updated_at, settled_at`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	err := row.Scan(
		&b.ID,
		&b.BillNumber,
		&b.CustomerName,
		&b.TableNumber,
		&b.Status,
		&b.PaymentStatus,
		&b.PaymentMethod,
		&b.Subtotal,
		&b.Discount,
		&b.Total,
		&b.CreatedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.SettledAt,
	)
	return b, err
}

const getNextBillNumber = `
SELECT COALESCE(MAX(CAST(SUBSTRING(bill_number FROM 4) AS INTEGER)), 0) + 1
FROM bills
`

// GetNextBillNumber computes the next sequence for "DL-%04d" numbers. Two
// concurrent callers can read the same value; the unique constraint on
// bill_number catches the loser, who retries.
func (q *Queries) GetNextBillNumber(ctx context.Context) (int32, error) {
	row := q.db.QueryRow(ctx, getNextBillNumber)
	var next int32
	err := row.Scan(&next)
	return next, err
}

const createBill = `
INSERT INTO bills (bill_number, customer_name, table_number, subtotal, discount, total, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + billColumns

type CreateBillParams struct {
	BillNumber   string
	CustomerName pgtype.Text
	TableNumber  pgtype.Text
	Subtotal     pgtype.Numeric
	Discount     pgtype.Numeric
	Total        pgtype.Numeric
	CreatedBy    uuid.UUID
}

func (q *Queries) CreateBill(ctx context.Context, arg CreateBillParams) (Bill, error) {
	row := q.db.QueryRow(ctx, createBill,
		arg.BillNumber,
		arg.CustomerName,
		arg.TableNumber,
		arg.Subtotal,
		arg.Discount,
		arg.Total,
		arg.CreatedBy,
	)
	return scanBill(row)
}

const getBill = `
SELECT ` + billColumns + `
FROM bills
WHERE id = $1
`

func (q *Queries) GetBill(ctx context.Context, id uuid.UUID) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, getBill, id))
}

const getBillForUpdate = `
SELECT ` + billColumns + `
FROM bills
WHERE id = $1
FOR NO KEY UPDATE
`

// GetBillForUpdate locks the bill row for the rest of the transaction. Every
// write against a bill or its items takes this lock first, so concurrent
// mutations of the same bill serialize.
func (q *Queries) GetBillForUpdate(ctx context.Context, id uuid.UUID) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, getBillForUpdate, id))
}

const getLiveBillByTableForUpdate = `
SELECT ` + billColumns + `
FROM bills
WHERE table_number = $1 AND status IN ('OPEN', 'SUBMITTED')
FOR NO KEY UPDATE
`

func (q *Queries) GetLiveBillByTableForUpdate(ctx context.Context, tableNumber string) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, getLiveBillByTableForUpdate, tableNumber))
}

const listBills = `
SELECT ` + billColumns + `
FROM bills
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::text IS NULL OR table_number = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4
`

type ListBillsParams struct {
	Status      pgtype.Text
	TableNumber pgtype.Text
	Limit       int32
	Offset      int32
}

func (q *Queries) ListBills(ctx context.Context, arg ListBillsParams) ([]Bill, error) {
	rows, err := q.db.Query(ctx, listBills, arg.Status, arg.TableNumber, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const updateBillStatus = `
UPDATE bills
SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + billColumns

type UpdateBillStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateBillStatus(ctx context.Context, arg UpdateBillStatusParams) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, updateBillStatus, arg.ID, arg.Status))
}

const updateBillTotals = `
UPDATE bills
SET subtotal = $2, discount = $3, total = $4, updated_at = now()
WHERE id = $1
RETURNING ` + billColumns

type UpdateBillTotalsParams struct {
	ID       uuid.UUID
	Subtotal pgtype.Numeric
	Discount pgtype.Numeric
	Total    pgtype.Numeric
}

func (q *Queries) UpdateBillTotals(ctx context.Context, arg UpdateBillTotalsParams) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, updateBillTotals,
		arg.ID,
		arg.Subtotal,
		arg.Discount,
		arg.Total,
	))
}

const settleBill = `
UPDATE bills
SET status = 'SETTLED', payment_status = 'PAID', payment_method = $2, settled_at = now(), updated_at = now()
WHERE id = $1
RETURNING ` + billColumns

type SettleBillParams struct {
	ID            uuid.UUID
	PaymentMethod pgtype.Text
}

func (q *Queries) SettleBill(ctx context.Context, arg SettleBillParams) (Bill, error) {
	return scanBill(q.db.QueryRow(ctx, settleBill, arg.ID, arg.PaymentMethod))
}

const createBillItem = `
INSERT INTO bill_items (bill_id, menu_item_id, name, unit_price, quantity, note)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, bill_id, menu_item_id, name, unit_price, quantity, note, created_at
`

type CreateBillItemParams struct {
	BillID     uuid.UUID
	MenuItemID uuid.UUID
	Name       string
	UnitPrice  pgtype.Numeric
	Quantity   int32
	Note       pgtype.Text
}

func (q *Queries) CreateBillItem(ctx context.Context, arg CreateBillItemParams) (BillItem, error) {
	row := q.db.QueryRow(ctx, createBillItem,
		arg.BillID,
		arg.MenuItemID,
		arg.Name,
		arg.UnitPrice,
		arg.Quantity,
		arg.Note,
	)
	return scanBillItem(row)
}

func scanBillItem(row pgx.Row) (BillItem, error) {
	var i BillItem
	err := row.Scan(
		&i.ID,
		&i.BillID,
		&i.MenuItemID,
		&i.Name,
		&i.UnitPrice,
		&i.Quantity,
		&i.Note,
		&i.CreatedAt,
	)
	return i, err
}

const getBillItem = `
SELECT id, bill_id, menu_item_id, name, unit_price, quantity, note, created_at
FROM bill_items
WHERE id = $1
`

func (q *Queries) GetBillItem(ctx context.Context, id uuid.UUID) (BillItem, error) {
	return scanBillItem(q.db.QueryRow(ctx, getBillItem, id))
}

const listBillItemsByBill = `
SELECT id, bill_id, menu_item_id, name, unit_price, quantity, note, created_at
FROM bill_items
WHERE bill_id = $1
ORDER BY created_at
`

func (q *Queries) ListBillItemsByBill(ctx context.Context, billID uuid.UUID) ([]BillItem, error) {
	rows, err := q.db.Query(ctx, listBillItemsByBill, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BillItem
	for rows.Next() {
		i, err := scanBillItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteBillItem = `
DELETE FROM bill_items
WHERE id = $1
`

func (q *Queries) DeleteBillItem(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteBillItem, id)
	return err
}

const deleteBillItemsByBill = `
DELETE FROM bill_items
WHERE bill_id = $1
`

func (q *Queries) DeleteBillItemsByBill(ctx context.Context, billID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteBillItemsByBill, billID)
	return err
}
